package demo

import (
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/pkg/errors"
)

// calcKeys is the keypad layout shared by both calculator versions.
var calcKeys = [][]string{
	{"close", "<<"},
	{"1", "2", "3", "4", "5"},
	{"6", "7", "8", "9", "0"},
	{"+", "-", "*", "/", "="},
}

const calcEvalTimeout = 100 * time.Millisecond

// Calculator accumulates keypad input into a formula.
type Calculator struct {
	formula string
}

// Press applies one key and returns the text to display. done is true for
// "close". Input that is not a keypad key is ignored.
func (c *Calculator) Press(key string) (display string, done bool) {
	switch key {
	case "close":
		return "", true
	case "<<":
		if c.formula != "" {
			c.formula = c.formula[:len(c.formula)-1]
		}
	case "=":
		if c.formula == "" {
			return c.view(), false
		}
		f := c.formula
		c.formula = ""
		v, err := Evaluate(f)
		if err != nil {
			return "Calculation error!\nError: " + err.Error(), false
		}
		return "Result: " + v, false
	default:
		if !isCalcKey(key) {
			return c.view(), false
		}
		c.formula += key
	}
	return c.view(), false
}

func (c *Calculator) view() string {
	if c.formula == "" {
		return "(enter formula)"
	}
	return "Formula: " + c.formula
}

func isCalcKey(key string) bool {
	for _, row := range calcKeys {
		for _, k := range row {
			if k == key {
				return true
			}
		}
	}
	return false
}

// Evaluate runs an arithmetic formula made of keypad symbols in a fresh
// JavaScript runtime.
func Evaluate(formula string) (string, error) {
	formula = strings.TrimSpace(formula)
	for _, r := range formula {
		if !strings.ContainsRune("0123456789+-*/", r) {
			return "", errors.Errorf("unexpected symbol %q", r)
		}
	}
	vm := goja.New()
	t := time.AfterFunc(calcEvalTimeout, func() { vm.Interrupt("timeout") })
	defer t.Stop()
	v, err := vm.RunString(formula)
	if err != nil {
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return "", errors.New(exc.Value().String())
		}
		return "", errors.Wrap(err, "evaluate")
	}
	return v.String(), nil
}
