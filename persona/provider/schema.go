package provider

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
)

// NewRequest builds a structured request whose response schema is reflected from T.
func NewRequest[T any](name, description, instructions, input string) Request {
	return Request{
		Name:         name,
		Description:  description,
		Instructions: instructions,
		Input:        input,
		Schema:       SchemaFor[T](),
	}
}

// schemas caches the encoded strict schema per response type.
var schemas sync.Map

// SchemaFor returns a fresh copy of T's response schema in OpenAI strict form:
// every object closes additionalProperties and requires all of its properties,
// sorted so the schema is byte-stable. It panics if T cannot be reflected.
func SchemaFor[T any]() map[string]interface{} {
	t := reflect.TypeOf((*T)(nil)).Elem()
	cached, ok := schemas.Load(t)
	if !ok {
		b, err := strictSchema(reflect.New(t).Elem().Interface())
		if err != nil {
			panic(fmt.Sprintf("schema for %s: %v", t, err))
		}
		cached, _ = schemas.LoadOrStore(t, b)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(cached.([]byte), &m); err != nil {
		panic(fmt.Sprintf("schema for %s: %v", t, err))
	}
	return m
}

func strictSchema(v any) ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	s := r.Reflect(v)
	s.Version = ""
	s.ID = ""

	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var node interface{}
	if err := json.Unmarshal(b, &node); err != nil {
		return nil, err
	}
	closeObjects(node)
	return json.Marshal(node)
}

// closeObjects rewrites every object schema reachable from node.
func closeObjects(node interface{}) {
	switch n := node.(type) {
	case []interface{}:
		for _, v := range n {
			closeObjects(v)
		}
	case map[string]interface{}:
		if n["type"] == "object" {
			n["additionalProperties"] = false
			if props, ok := n["properties"].(map[string]interface{}); ok && len(props) > 0 {
				required := make([]string, 0, len(props))
				for name := range props {
					required = append(required, name)
				}
				sort.Strings(required)
				n["required"] = required
			}
		}
		for key, v := range n {
			if key == "properties" {
				// keys are field names, not schema keywords
				if props, ok := v.(map[string]interface{}); ok {
					for _, p := range props {
						closeObjects(p)
					}
				}
				continue
			}
			closeObjects(v)
		}
	}
}
