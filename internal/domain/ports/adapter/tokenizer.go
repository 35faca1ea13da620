package adapter

// TokenCounter measures text in model tokens for chunk sizing.
type TokenCounter interface {
	Count(text string) int
}
