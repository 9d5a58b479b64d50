package llm

import (
	"github.com/invopop/jsonschema"
	"github.com/rotisserie/eris"
)

// SchemaHint renders the JSON schema of T for inclusion in a prompt. The
// reply is still parsed leniently; the schema only tells the model which keys
// to use.
func SchemaHint[T any]() (string, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	b, err := schema.MarshalJSON()
	if err != nil {
		return "", eris.Wrap(err, "marshaling schema")
	}
	return string(b), nil
}
