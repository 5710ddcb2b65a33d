package arbiter

import (
	"fmt"

	"github.com/ezachrisen/arbiter/schema"
	"github.com/gobuffalo/plush"
)

// Documentation renders the description of the rule as a plush template.
// The template can use the short name (shortName), the display name
// (name), and each parameter by its name, set to the value in values or
// to the zero value of its type:
//
//	Surcharge of <%= rate %> applied after <%= delay %> days.
func (r *Rule) Documentation(values map[string]any) (string, error) {
	s := r.state()

	ctx := plush.NewContext()
	ctx.Set("shortName", r.ShortName)
	ctx.Set("name", r.Name)
	for _, p := range s.params {
		v, ok := values[p.Name]
		if !ok && p.Type != nil {
			v = p.Type.Zero()
		}
		ctx.Set(p.Name, schema.Format(v))
	}

	out, err := plush.Render(r.Description, ctx)
	if err != nil {
		return "", fmt.Errorf("rendering documentation of rule %s: %w", r.ShortName, err)
	}
	return out, nil
}
