package profile

import (
	"fmt"
	"strings"

	"github.com/jbellec/veilguard/internal/guard"
)

// ExampleText composes a demonstration sentence from the example
// values configured on a profile's fields. It is used by the examples
// endpoint so operators can exercise a guard type without inventing
// realistic test data.
func ExampleText(p guard.Profile) string {
	var b strings.Builder
	b.WriteString("Please review this record.")
	for _, f := range p.Fields {
		if f.Example == "" {
			continue
		}
		label := f.DisplayName
		if label == "" {
			label = f.FieldName
		}
		fmt.Fprintf(&b, " %s: %s.", label, f.Example)
	}
	return b.String()
}
