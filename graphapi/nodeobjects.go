package graphapi

import (
	"encoding/json"
	"strings"
)

type NodeObjects struct {
	Objects map[string]*NodeObject
}

// NodeObject represents the metadata the backend reports for a node class
// (GET /object_info). We only need it to discover the values a COMBO input
// accepts, e.g. the installed checkpoints or the available samplers.
type NodeObject struct {
	Input       *NodeObjectInput `json:"input"`
	Output      *[]string        `json:"output"` // output type
	OutputName  *[]string        `json:"output_name"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	OutputNode  bool             `json:"output_node"`
}

type NodeObjectInput struct {
	Required        map[string]*interface{} `json:"required"`
	Optional        map[string]*interface{} `json:"optional,omitempty"`
	OrderedRequired []string                `json:"-"`
	OrderedOptional []string                `json:"-"`
}

// UnmarshalJSON keeps the declaration order of the inputs, which plain map
// decoding would lose.
func (noi *NodeObjectInput) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return err
	} // consume opening brace

	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return err
		}

		key := t.(string)
		switch key {
		case "required", "optional":
			if _, err := dec.Token(); err != nil { // consume opening brace of nested object
				return err
			}

			currentMap := make(map[string]*interface{})
			currentOrder := make([]string, 0)
			for dec.More() {
				entryKeyToken, err := dec.Token()
				if err != nil {
					return err
				}

				entryKey := entryKeyToken.(string)
				currentOrder = append(currentOrder, entryKey)

				rawValue := &json.RawMessage{}
				if err := dec.Decode(rawValue); err != nil {
					return err
				}

				var i interface{}
				if err := json.Unmarshal(*rawValue, &i); err != nil {
					return err
				}

				currentMap[entryKey] = &i
			}

			if _, err := dec.Token(); err != nil { // consume closing brace of nested object
				return err
			}

			if key == "required" {
				noi.Required = currentMap
				noi.OrderedRequired = currentOrder
			} else {
				noi.Optional = currentMap
				noi.OrderedOptional = currentOrder
			}
		default:
			if err := dec.Decode(new(interface{})); err != nil { // consume and ignore non-expected field
				return err
			}
		}
	}

	if _, err := dec.Token(); err != nil { // consume closing brace
		return err
	}

	return nil
}

// ComboValues returns the choices of a COMBO input, looking at required
// inputs first. Both the legacy form [["a","b"], {...}] and the newer
// ["COMBO", {"options": ["a","b"]}] are understood.
func (n *NodeObject) ComboValues(inputName string) []string {
	if n == nil || n.Input == nil {
		return nil
	}
	p, ok := n.Input.Required[inputName]
	if !ok {
		p, ok = n.Input.Optional[inputName]
	}
	if !ok || p == nil {
		return nil
	}

	slice, ok := (*p).([]interface{})
	if !ok || len(slice) == 0 {
		return nil
	}

	if values, ok := slice[0].([]interface{}); ok {
		return toStrings(values)
	}
	if stype, ok := slice[0].(string); ok && stype == "COMBO" && len(slice) > 1 {
		if opts, ok := slice[1].(map[string]interface{}); ok {
			if values, ok := opts["options"].([]interface{}); ok {
				return toStrings(values)
			}
		}
	}
	return nil
}

func toStrings(values []interface{}) []string {
	retv := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			retv = append(retv, s)
		}
	}
	return retv
}

func (n *NodeObjects) GetNodeObjectByName(name string) *NodeObject {
	if n == nil {
		return nil
	}
	val, ok := n.Objects[name]
	if ok {
		return val
	}
	return nil
}
