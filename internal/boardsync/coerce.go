package boardsync

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/overseer-dev/overseer/internal/port/boardprovider"
)

// Coercion is the normalized form of a board listing payload. ValidShape is
// false when the payload matched none of the known shapes; Items is then
// empty, never nil-panicking downstream.
type Coercion struct {
	Items      []boardprovider.Item `json:"items"`
	ValidShape bool                 `json:"valid_shape"`
}

// CoerceItems normalizes a raw board response into a canonical item list.
// Board responses have arrived in several shapes over time: a bare array,
// {data:{items:[...]}}, {items:[...]}, and the GraphQL relay forms
// {nodes:[...]} and {edges:[{node:...}]}. Each known shape is attempted in a
// fixed order; null, primitives, and unrecognized objects coerce to an empty,
// invalid result without error.
func CoerceItems(raw json.RawMessage) Coercion {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Coercion{Items: []boardprovider.Item{}}
	}

	// Bare array.
	if strings.HasPrefix(trimmed, "[") {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return Coercion{Items: []boardprovider.Item{}}
		}
		return Coercion{Items: decodeList(arr), ValidShape: true}
	}

	if !strings.HasPrefix(trimmed, "{") {
		// Primitive string/number/bool.
		return Coercion{Items: []boardprovider.Item{}}
	}

	var envelope struct {
		Data *struct {
			Items []json.RawMessage `json:"items"`
			Nodes []json.RawMessage `json:"nodes"`
		} `json:"data"`
		Items []json.RawMessage `json:"items"`
		Nodes []json.RawMessage `json:"nodes"`
		Edges []struct {
			Node json.RawMessage `json:"node"`
		} `json:"edges"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Coercion{Items: []boardprovider.Item{}}
	}

	switch {
	case envelope.Data != nil && envelope.Data.Items != nil:
		return Coercion{Items: decodeList(envelope.Data.Items), ValidShape: true}
	case envelope.Data != nil && envelope.Data.Nodes != nil:
		return Coercion{Items: decodeList(envelope.Data.Nodes), ValidShape: true}
	case envelope.Items != nil:
		return Coercion{Items: decodeList(envelope.Items), ValidShape: true}
	case envelope.Nodes != nil:
		return Coercion{Items: decodeList(envelope.Nodes), ValidShape: true}
	case envelope.Edges != nil:
		nodes := make([]json.RawMessage, 0, len(envelope.Edges))
		for _, e := range envelope.Edges {
			if len(e.Node) > 0 {
				nodes = append(nodes, e.Node)
			}
		}
		return Coercion{Items: decodeList(nodes), ValidShape: true}
	}
	return Coercion{Items: []boardprovider.Item{}}
}

// CoerceItem normalizes a single-item payload, unwrapping the same envelope
// forms. The second return is false when no item could be decoded.
func CoerceItem(raw json.RawMessage) (boardprovider.Item, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || !strings.HasPrefix(trimmed, "{") {
		return boardprovider.Item{}, false
	}

	var envelope struct {
		Data *struct {
			Item json.RawMessage `json:"item"`
			Node json.RawMessage `json:"node"`
		} `json:"data"`
		Item json.RawMessage `json:"item"`
		Node json.RawMessage `json:"node"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return boardprovider.Item{}, false
	}

	inner := raw
	switch {
	case envelope.Data != nil && len(envelope.Data.Item) > 0:
		inner = envelope.Data.Item
	case envelope.Data != nil && len(envelope.Data.Node) > 0:
		inner = envelope.Data.Node
	case len(envelope.Item) > 0:
		inner = envelope.Item
	case len(envelope.Node) > 0:
		inner = envelope.Node
	}

	item, ok := decodeItem(inner)
	return item, ok
}

func decodeList(raws []json.RawMessage) []boardprovider.Item {
	items := make([]boardprovider.Item, 0, len(raws))
	for _, r := range raws {
		if item, ok := decodeItem(r); ok {
			items = append(items, item)
		}
	}
	return items
}

// rawItem accepts the field spellings observed across issue listings and
// project-board item listings.
type rawItem struct {
	ID     string          `json:"id"`
	NodeID string          `json:"node_id"`
	Number int             `json:"number"`
	Title  string          `json:"title"`
	Body   string          `json:"body"`
	State  string          `json:"state"`
	Status string          `json:"status"`
	Labels json.RawMessage `json:"labels"`
	Assignee *struct {
		Login string `json:"login"`
	} `json:"assignee"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
	// Project-board items nest the issue under content.
	Content *struct {
		ID     string `json:"id"`
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"content"`
	OwnerID string            `json:"owner_id"`
	Meta    map[string]string `json:"meta"`
}

func decodeItem(raw json.RawMessage) (boardprovider.Item, bool) {
	var ri rawItem
	if err := json.Unmarshal(raw, &ri); err != nil {
		return boardprovider.Item{}, false
	}

	item := boardprovider.Item{
		ID:      ri.ID,
		Number:  ri.Number,
		Title:   ri.Title,
		Body:    ri.Body,
		Status:  ri.Status,
		OwnerID: ri.OwnerID,
		Meta:    ri.Meta,
	}
	if item.Status == "" {
		item.Status = ri.State
	}
	if ri.Content != nil {
		if item.Title == "" {
			item.Title = ri.Content.Title
		}
		if item.Body == "" {
			item.Body = ri.Content.Body
		}
		if item.Number == 0 {
			item.Number = ri.Content.Number
		}
	}
	item.Labels = decodeLabels(ri.Labels)
	if ri.Assignee != nil {
		item.Assignee = ri.Assignee.Login
	} else if len(ri.Assignees) > 0 {
		item.Assignee = ri.Assignees[0].Login
	}

	// External identity: explicit node id, else the issue number.
	switch {
	case ri.NodeID != "":
		item.ExternalID = ri.NodeID
	case ri.ID != "":
		item.ExternalID = ri.ID
	case item.Number > 0:
		item.ExternalID = strconv.Itoa(item.Number)
	}

	if item.ExternalID == "" && item.Title == "" {
		return boardprovider.Item{}, false
	}
	return item, true
}

// decodeLabels accepts both ["bug"] and [{"name":"bug"}].
func decodeLabels(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var objs []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &objs); err == nil {
		out := make([]string, 0, len(objs))
		for _, o := range objs {
			if o.Name != "" {
				out = append(out, o.Name)
			}
		}
		return out
	}
	return nil
}
