package chat

// Result describes which keyboard button an event selected.
type Result struct {
	// Known is true when the event matched one of the keyboard buttons.
	Known bool
	// Data is the button payload (callback data without prefix, or the button text).
	Data string
	// Index is the button position, row*width+column, or -1.
	Index int
}

// NoResult is the "no match" result. It is returned instead of nil everywhere.
var NoResult = Result{Known: false, Data: "", Index: -1}

// IsNone reports whether r is the "no match" result.
func (r Result) IsNone() bool { return !r.Known }
