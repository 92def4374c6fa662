package chat

// PagePhase is the pagination protocol for one timeline. The three phases
// are distinct on purpose: collapsing NotFetched and Exhausted either
// re-fetches forever or silently sticks.
type PagePhase int

const (
	// PageNotFetched means the first page has never been requested.
	PageNotFetched PagePhase = iota
	// PageHasMore means older history remains; Cursor holds the token.
	PageHasMore
	// PageExhausted means the server signalled the end of history.
	// No further fetch may be issued.
	PageExhausted
)

// PageState tracks where pagination stands for one conversation.
type PageState struct {
	Phase  PagePhase
	Cursor string
}

// Done reports whether history is exhausted.
func (p PageState) Done() bool { return p.Phase == PageExhausted }

// Advance moves the state forward given the cursor returned by the server.
// An empty cursor signals exhaustion.
func (p *PageState) Advance(next string) {
	if next == "" {
		p.Phase = PageExhausted
		p.Cursor = ""
		return
	}
	p.Phase = PageHasMore
	p.Cursor = next
}
