package scanner

// Message tags, loosely severity-ordered. An empty tag is valid.
const (
	TagInfo = "info"
	TagOK   = "ok"
	TagErr  = "err"
)

// Message is one progress update emitted during a scan.
type Message struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

// Sink receives progress messages. A nil Sink is a valid configuration;
// the pipeline runs identically without one.
type Sink func(Message)

// emit pushes a message to the sink if one is attached. A panicking sink
// must not take the pipeline down with it.
func emit(sink Sink, tag, text string) {
	if sink == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	sink(Message{Tag: tag, Text: text})
}
