// Package order parses and validates inbound order JSON before it reaches
// the digest and token layers. Malformed input here indicates an
// integration bug in the calling service, so validation failures are hard
// errors rather than structured verdicts.
package order

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/brokerops/core/pkg/contracts"
)

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["client_order_id", "symbol", "side", "qty"],
  "properties": {
    "client_order_id": {"type": "string", "minLength": 1},
    "symbol": {"type": "string", "minLength": 1},
    "side": {"type": "string", "pattern": "^(?i)(BUY|SELL)$"},
    "qty": {"type": "number", "exclusiveMinimum": 0},
    "price": {"type": ["number", "string", "null"]}
  },
  "additionalProperties": false
}`

var orderSchema = jsonschema.MustCompileString("order.json", schemaJSON)

// Parse validates raw order JSON against the order schema and decodes it.
// The side is normalized to its uppercase enum form; all other
// normalization (symbol case, qty flooring, price rendering) happens at
// digest time so the stored order keeps the caller's values.
func Parse(raw []byte) (contracts.Order, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return contracts.Order{}, fmt.Errorf("order: malformed JSON: %w", err)
	}
	if err := orderSchema.Validate(generic); err != nil {
		return contracts.Order{}, fmt.Errorf("order: schema validation failed: %w", err)
	}

	var o contracts.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return contracts.Order{}, fmt.Errorf("order: decode failed: %w", err)
	}
	o.Side = contracts.Side(strings.ToUpper(string(o.Side)))
	return o, nil
}
