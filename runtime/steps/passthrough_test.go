package steps

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"

	"github.com/warriorguo/loadflow/types"
)

func TestMapFilterOnEach(t *testing.T) {
	var seen []any
	root := emit("emit", 1, 2, 3, 4)
	double := Map("double", func(input any) (any, error) {
		return input.(int) * 2, nil
	})
	keepLarge := Filter("large", func(input any) bool {
		return input.(int) > 4
	})
	onEach := OnEach("seen", func(input any) {
		seen = append(seen, input)
	})
	c := &collected{}

	root.AddNext(double)
	double.AddNext(keepLarge)
	keepLarge.AddNext(onEach)
	onEach.AddNext(c.sink("sink"))
	runDag(t, root)

	records, errs := c.get()
	assert.Equal(t, []any{6, 8}, records)
	assert.Equal(t, []any{6, 8}, seen)
	assert.Empty(t, errs)
}

func TestMapFailureExhaustsContext(t *testing.T) {
	root := emit("emit", "a")
	failing := Map("failing", func(input any) (any, error) {
		return nil, errors.New("cannot map")
	})
	c := &collected{}
	root.AddNext(failing)
	failing.AddNext(c.sink("sink"))
	runDag(t, root)

	records, errs := c.get()
	assert.Empty(t, records)
	if assert.Len(t, errs, 1) {
		assert.Equal(t, "failing", errs[0].StepName)
	}
}

func TestValidation(t *testing.T) {
	root := emit("emit", -1, 1)
	validation := Validation("positive", func(input any) []error {
		if input.(int) < 0 {
			return []error{errors.New("negative"), errors.New("too small")}
		}
		return nil
	})
	c := &collected{}
	root.AddNext(validation)
	validation.AddNext(c.sink("sink"))
	runDag(t, root)

	records, errs := c.get()
	assert.Equal(t, []any{1}, records)
	assert.Len(t, errs, 2)
}

func TestVerificationRaisesAssertion(t *testing.T) {
	root := emit("emit", "ok", "ko")
	verification := Verification("verify", func(input any) error {
		if input != "ok" {
			return errors.Errorf("unexpected %v", input)
		}
		return nil
	})
	c := &collected{}
	root.AddNext(verification)
	verification.AddNext(c.sink("sink"))
	runDag(t, root)

	records, errs := c.get()
	assert.Equal(t, []any{"ok"}, records)
	if assert.Len(t, errs, 1) {
		assert.True(t, types.IsAssertion(errs[0]))
	}
}

func TestBlackHole(t *testing.T) {
	root := emit("emit", 1, 2)
	hole := BlackHole("hole")
	c := &collected{}
	root.AddNext(hole)
	hole.AddNext(c.sink("sink"))
	runDag(t, root)

	records, errs := c.get()
	assert.Empty(t, records)
	assert.Empty(t, errs)
}
