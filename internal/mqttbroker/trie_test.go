package mqttbroker

import "testing"

var testSessionSeq uint64

// newTestSession builds a bare Session carrying only the fields the trie
// cares about: a unique id (what the trie actually keys on) and a
// human-readable clientID (what these tests assert against). The two are
// deliberately independent, since the trie must not rely on clientID being
// unique or non-empty.
func newTestSession(clientID string) *Session {
	testSessionSeq++
	return &Session{id: testSessionSeq, clientID: clientID}
}

func subscriberIDs(sessions []*Session) map[string]bool {
	ids := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		ids[s.ClientID()] = true
	}
	return ids
}

func TestTrieMatch(t *testing.T) {
	tests := []struct {
		name    string
		filters []string
		topic   string
		want    bool
	}{
		{"exact match", []string{"test/topic"}, "test/topic", true},
		{"exact mismatch", []string{"test/topic"}, "test/other", false},

		{"plus single level", []string{"test/+"}, "test/topic", true},
		{"plus does not cross level", []string{"test/+"}, "test/topic/sub", false},
		{"plus mid-filter", []string{"test/+/sub"}, "test/topic/sub", true},
		{"plus leading", []string{"+/topic"}, "test/topic", true},
		{"plus every level", []string{"+/+"}, "test/topic", true},

		{"hash suffix", []string{"test/#"}, "test/topic", true},
		{"hash deep suffix", []string{"test/#"}, "test/topic/sub/deep", true},
		{"hash no match other root", []string{"test/#"}, "other/topic", false},
		{"bare hash", []string{"#"}, "any/topic/here", true},
		{"hash matches own prefix level", []string{"test/topic/#"}, "test/topic", true},

		{"combined wildcards", []string{"+/+/#"}, "test/topic/sub/deep", true},
		{"plus then hash", []string{"test/+/#"}, "test/topic/sub", true},

		{"empty topic no filters", []string{}, "", false},
		{"single segment exact", []string{"test"}, "test", true},

		{"logs hash matches bare prefix", []string{"logs/#"}, "logs", true},
		{"logs hash matches one level", []string{"logs/#"}, "logs/a", true},
		{"logs hash matches two levels", []string{"logs/#"}, "logs/a/b", true},
		{"logs hash rejects unrelated prefix", []string{"logs/#"}, "loghouse", false},
		{"bare hash matches empty topic", []string{"#"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trie := newTopicTrie()
			sess := newTestSession("sub")
			for _, f := range tt.filters {
				trie.subscribe(f, sess)
			}

			matches := trie.match(tt.topic)
			got := len(matches) > 0
			if got != tt.want {
				t.Errorf("match(%q) against filters %v = %v, want %v", tt.topic, tt.filters, got, tt.want)
			}
		})
	}
}

func TestTrieDollarPrefixExcludesWildcards(t *testing.T) {
	trie := newTopicTrie()
	hashSub := newTestSession("hash-sub")
	plusSub := newTestSession("plus-sub")
	literalSub := newTestSession("literal-sub")

	trie.subscribe("#", hashSub)
	trie.subscribe("+/status", plusSub)
	trie.subscribe("$SYS/status", literalSub)

	matches := trie.match("$SYS/status")
	ids := subscriberIDs(matches)

	if ids["hash-sub"] {
		t.Error("bare '#' must not match a topic beginning with '$'")
	}
	if ids["plus-sub"] {
		t.Error("leading '+' must not match a topic beginning with '$'")
	}
	if !ids["literal-sub"] {
		t.Error("literal subscription to a $-prefixed topic must still match")
	}
}

func TestTrieDollarPrefixAllowsNonLeadingWildcards(t *testing.T) {
	trie := newTopicTrie()
	sess := newTestSession("sub")
	trie.subscribe("$SYS/+", sess)

	matches := trie.match("$SYS/uptime")
	if len(matches) != 1 {
		t.Errorf("expected a '+' wildcard not in the first position to match a $-prefixed topic, got %d matches", len(matches))
	}
}

func TestTrieDeduplicatesOverlappingSubscriptions(t *testing.T) {
	trie := newTopicTrie()
	sess := newTestSession("sub")
	trie.subscribe("a/b", sess)
	trie.subscribe("a/+", sess)
	trie.subscribe("a/#", sess)

	matches := trie.match("a/b")
	if len(matches) != 1 {
		t.Fatalf("expected one deduplicated match across 3 overlapping filters, got %d", len(matches))
	}
}

func TestTrieDuplicateSubscribeIsIdempotent(t *testing.T) {
	trie := newTopicTrie()
	sess := newTestSession("sub")
	trie.subscribe("a/b", sess)
	trie.subscribe("a/b", sess)

	matches := trie.match("a/b")
	if len(matches) != 1 {
		t.Fatalf("expected idempotent re-subscription, got %d matches", len(matches))
	}
}

func TestTrieUnsubscribeRemovesSubscriber(t *testing.T) {
	trie := newTopicTrie()
	sess := newTestSession("sub")
	trie.subscribe("a/b", sess)

	if len(trie.match("a/b")) != 1 {
		t.Fatal("expected a match before unsubscribe")
	}

	trie.unsubscribe("a/b", sess)

	if len(trie.match("a/b")) != 0 {
		t.Fatal("expected no match after unsubscribe")
	}
}

func TestTrieUnsubscribeUnknownFilterIsNoop(t *testing.T) {
	trie := newTopicTrie()
	sess := newTestSession("sub")
	// Should not panic even though nothing was ever subscribed.
	trie.unsubscribe("never/subscribed", sess)
}

func TestTrieMultipleSubscribersOneTopic(t *testing.T) {
	trie := newTopicTrie()
	a := newTestSession("a")
	b := newTestSession("b")
	trie.subscribe("room/#", a)
	trie.subscribe("room/+", b)

	matches := trie.match("room/kitchen")
	ids := subscriberIDs(matches)
	if !ids["a"] || !ids["b"] {
		t.Errorf("expected both subscribers to match, got %v", ids)
	}
}

// TestTrieDistinctSessionsSharingClientIDBothMatch covers two sessions that
// present the same client id to CONNECT (including the all-too-common
// empty one). The trie must still treat them as distinct subscribers, since
// it is keyed by session id rather than the client-supplied string.
func TestTrieDistinctSessionsSharingClientIDBothMatch(t *testing.T) {
	trie := newTopicTrie()
	first := newTestSession("")
	second := newTestSession("")

	trie.subscribe("room/+", first)
	trie.subscribe("room/+", second)

	matches := trie.match("room/kitchen")
	if len(matches) != 2 {
		t.Fatalf("expected both same-client-id sessions to receive fan-out, got %d matches", len(matches))
	}

	trie.unsubscribe("room/+", first)

	matches = trie.match("room/kitchen")
	if len(matches) != 1 || matches[0].ID() != second.ID() {
		t.Fatalf("expected unsubscribing one session to leave the other intact, got %d matches", len(matches))
	}
}
