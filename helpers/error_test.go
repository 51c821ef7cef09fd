package helpers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()
	e1 := fmt.Errorf("sdk off")
	e2 := fmt.Errorf("socket closed")
	type Case struct {
		name   string
		input  []error
		expect string
	}
	cases := []Case{
		{"empty", nil, ""},
		{"nils", []error{nil, nil}, ""},
		{"one", []error{nil, e1}, "sdk off"},
		{"two", []error{e1, nil, e2}, "sdk off\nsocket closed"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			err := FoldErrors(c.input)
			if c.expect == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, c.expect)
			}
		})
	}
	assert.Equal(t, e1, FoldErrors([]error{e1}))
}
