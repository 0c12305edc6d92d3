package mqttbroker

import "strings"

// trieNode is one character position in the topic trie. children are keyed
// by the literal byte that labels the edge. subscribers and hashSubscribers
// are keyed by session id rather than client id: client id is attacker/
// client supplied, frequently empty, and carries no uniqueness guarantee, so
// two live sessions sharing one would otherwise collide in the same map
// slot. subscribers holds sessions whose filter terminates exactly here (an
// end-of-filter marker folded into the node itself rather than a separate
// sentinel child). hashSubscribers holds sessions whose filter is this
// node's literal prefix followed by "/#" (or, at the root, the bare filter
// "#"): per MQTT 3.1.1, such a filter matches the prefix topic itself and
// every topic below it, so its subscribers are collected at every node
// along a matching walk rather than only at a literal end-of-filter node.
type trieNode struct {
	children        map[byte]*trieNode
	subscribers     map[uint64]*Session
	hashSubscribers map[uint64]*Session
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[byte]*trieNode)}
}

// topicTrie is the Worker's private index from topic filter to subscribed
// sessions. It is touched only by the Worker goroutine, so it carries no
// lock of its own.
type topicTrie struct {
	root *trieNode
}

func newTopicTrie() *topicTrie {
	return &topicTrie{root: newTrieNode()}
}

// insertLiteral walks s one byte at a time, creating child nodes as
// needed, and returns the terminal node. '#' never appears inside s: by
// the MQTT grammar it can only be the filter's final character, and
// subscribe/unsubscribe strip it (and its preceding '/') before calling
// this.
func (t *topicTrie) insertLiteral(s string) *trieNode {
	node := t.root
	for i := 0; i < len(s); i++ {
		c := s[i]
		child, ok := node.children[c]
		if !ok {
			child = newTrieNode()
			node.children[c] = child
		}
		node = child
	}
	return node
}

// findLiteral walks s and returns its terminal node, or nil if no filter
// with exactly this literal path has ever been inserted.
func (t *topicTrie) findLiteral(s string) *trieNode {
	node := t.root
	for i := 0; i < len(s); i++ {
		child, ok := node.children[s[i]]
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

// subscribe records sess as subscribed to filter, creating trie nodes as
// necessary, and returns the node the subscription lives on (for the
// caller to keep as a cleanup back-reference). A filter of "#" or ending
// in "/#" is stored as a hashSubscribers entry on the node for its literal
// prefix (root for bare "#"); every other filter is stored as a
// subscribers entry on its own terminal node.
func (t *topicTrie) subscribe(filter string, sess *Session) *trieNode {
	node := t.hashPrefixNode(filter, true)
	if node != nil {
		if node.hashSubscribers == nil {
			node.hashSubscribers = make(map[uint64]*Session)
		}
		node.hashSubscribers[sess.ID()] = sess
		return node
	}

	node = t.insertLiteral(filter)
	if node.subscribers == nil {
		node.subscribers = make(map[uint64]*Session)
	}
	node.subscribers[sess.ID()] = sess
	return node
}

// unsubscribe removes sess from filter's subscriber set, if present. A
// filter with no remaining subscribers is left in the trie rather than
// pruned: the trie never shrinks, trading a little memory for simplicity
// since branch compaction is an optimization, not a correctness
// requirement.
func (t *topicTrie) unsubscribe(filter string, sess *Session) {
	node := t.hashPrefixNode(filter, false)
	if node == nil {
		node = t.findLiteral(filter)
	}
	if node == nil {
		return
	}
	t.unsubscribeAt(node, filter, sess)
}

// unsubscribeAt removes sess from exactly the map filter lives in on node
// (hashSubscribers for "#"/"*/#" filters, subscribers otherwise), given a
// back-reference already resolved by subscribe. Used by Session cleanup to
// avoid re-walking the trie by filter string.
func (t *topicTrie) unsubscribeAt(node *trieNode, filter string, sess *Session) {
	if strings.HasSuffix(filter, "/#") || filter == "#" {
		if node.hashSubscribers != nil {
			delete(node.hashSubscribers, sess.ID())
		}
		return
	}
	if node.subscribers != nil {
		delete(node.subscribers, sess.ID())
	}
}

// hashPrefixNode returns the node that owns filter's hashSubscribers entry
// if filter is "#" or ends in "/#", or nil if filter uses no multi-level
// wildcard. When create is true, missing literal-prefix nodes are created
// (subscribe path); when false, a missing prefix yields nil (unsubscribe
// path, where a never-seen filter is a no-op).
func (t *topicTrie) hashPrefixNode(filter string, create bool) *trieNode {
	if filter == "#" {
		return t.root
	}
	if !strings.HasSuffix(filter, "/#") {
		return nil
	}
	prefix := filter[:len(filter)-2]
	if create {
		return t.insertLiteral(prefix)
	}
	return t.findLiteral(prefix)
}

// match returns every session subscribed to a filter that matches topic,
// honoring the '+' single-level and '#' multi-level wildcards and the
// MQTT-4.7.2-1 rule that a wildcard occupying the first character of a
// filter never matches a topic beginning with '$'.
func (t *topicTrie) match(topic string) []*Session {
	dollarPrefixed := len(topic) > 0 && topic[0] == '$'
	seen := make(map[uint64]*Session)
	t.matchNode(t.root, topic, 0, dollarPrefixed, seen)

	out := make([]*Session, 0, len(seen))
	for _, sess := range seen {
		out = append(out, sess)
	}
	return out
}

func (t *topicTrie) matchNode(node *trieNode, topic string, i int, dollarPrefixed bool, out map[uint64]*Session) {
	atFirstLevel := i == 0
	wildcardsExcluded := dollarPrefixed && atFirstLevel

	// A "#" rooted at this node matches everything from here on,
	// including zero further characters (spec: "logs/#" matches "logs"),
	// but only where this node ends a topic level: the root (bare "#"),
	// the end of the topic, or just before a '/'. So "logs/#" does not
	// match "logsX".
	atLevelBoundary := node == t.root || i == len(topic) || topic[i] == '/'
	if !wildcardsExcluded && atLevelBoundary {
		for id, sess := range node.hashSubscribers {
			out[id] = sess
		}
	}

	if i == len(topic) {
		for id, sess := range node.subscribers {
			out[id] = sess
		}
		return
	}

	// Exact-character branch.
	if child, ok := node.children[topic[i]]; ok {
		t.matchNode(child, topic, i+1, dollarPrefixed, out)
	}

	if wildcardsExcluded {
		return
	}

	// '+' consumes everything up to (but not including) the next '/', or
	// to the end of the topic if this is the last level.
	if plus, ok := node.children['+']; ok {
		j := i
		for j < len(topic) && topic[j] != '/' {
			j++
		}
		t.matchNode(plus, topic, j, dollarPrefixed, out)
	}
}
