package chat

// ConversationID derives the deterministic conversation key for a pair of
// user ids. The lower id (byte order) always comes first, so both
// participants compute the same key without a handshake.
func ConversationID(a, b string) string {
	if a < b {
		return a + "_" + b
	}
	return b + "_" + a
}
