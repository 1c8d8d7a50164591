package masking

// Scrub replaces every credential-shaped substring in text. Error paths
// call this on provider response excerpts and runner failure messages
// before they can reach logs or clients.
func Scrub(text string) string {
	if text == "" {
		return text
	}
	for _, p := range builtinPatterns {
		text = p.Regex.ReplaceAllString(text, p.Replacement)
	}
	return text
}
