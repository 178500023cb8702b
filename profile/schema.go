package profile

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// limitsSchema is the closed definition of the [profile] table.
const limitsSchema = `
#Profile: {
	"cycle-budget"?:    int & >0
	"max-fallbacks"?:   int & >=0 & <=1024
	"memory-capacity"?: int & >0 & <=16777216 // vm.MaxMemoryCapacity
}
`

// validateLimits checks a decoded [profile] table against limitsSchema.
// A nil table is valid.
func validateLimits(table map[string]any) error {
	if table == nil {
		return nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(limitsSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("profile schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Profile"))
	v := def.Unify(ctx.Encode(table))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("[profile]: %w", err)
	}
	return nil
}
