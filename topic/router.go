package topic

import "sync"

// Router is the subscription registry for one broker: it keeps a Trie for
// fast topic-to-subscriber lookup, plus a clientID->filter->Subscription
// index so a client's own subscriptions (ordinary or shared) can be listed
// or torn down without walking the trie.
type Router struct {
	mu     sync.RWMutex
	trie   *Trie
	byClient map[string]map[string]*Subscription
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{
		trie:     NewTrie(),
		byClient: make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers sub, routing to the shared-group path when its filter
// carries a "$share/" prefix.
func (r *Router) Subscribe(sub *Subscription) error {
	info := SubscriberInfo{
		ClientID:               sub.ClientID,
		QoS:                    sub.QoS,
		NoLocal:                sub.NoLocal,
		RetainAsPublished:      sub.RetainAsPublished,
		RetainHandling:         sub.RetainHandling,
		SubscriptionIdentifier: sub.SubscriptionIdentifier,
	}

	if IsSharedSubscription(sub.TopicFilter) {
		group, filter, err := ValidateSharedSubscription(sub.TopicFilter)
		if err != nil {
			return err
		}
		if err := r.trie.SubscribeShared(group, filter, info); err != nil {
			return err
		}
	} else {
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return err
		}
		if err := r.trie.Subscribe(sub.TopicFilter, info); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byClient[sub.ClientID] == nil {
		r.byClient[sub.ClientID] = make(map[string]*Subscription)
	}
	r.byClient[sub.ClientID][sub.TopicFilter] = sub
	return nil
}

// Unsubscribe removes clientID's subscription to filter. Returns whether a
// subscription was actually removed.
func (r *Router) Unsubscribe(clientID, filter string) bool {
	var found bool
	if IsSharedSubscription(filter) {
		group, topicFilter, err := ValidateSharedSubscription(filter)
		if err != nil {
			return false
		}
		found = r.trie.UnsubscribeShared(group, topicFilter, clientID)
	} else {
		found = r.trie.Unsubscribe(filter, clientID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgetLocked(clientID, filter)
	return found
}

// UnsubscribeAll tears down every subscription clientID holds, returning how
// many were removed. Used on disconnect and on session expiry.
func (r *Router) UnsubscribeAll(clientID string) int {
	r.mu.Lock()
	subs, ok := r.byClient[clientID]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	filters := make([]string, 0, len(subs))
	for filter := range subs {
		filters = append(filters, filter)
	}
	delete(r.byClient, clientID)
	r.mu.Unlock()

	removed := 0
	for _, filter := range filters {
		if IsSharedSubscription(filter) {
			group, topicFilter, err := ValidateSharedSubscription(filter)
			if err == nil && r.trie.UnsubscribeShared(group, topicFilter, clientID) {
				removed++
			}
			continue
		}
		if r.trie.Unsubscribe(filter, clientID) {
			removed++
		}
	}
	return removed
}

// forgetLocked drops filter from clientID's index entry, pruning the
// client's entry entirely once it has no subscriptions left. Caller holds
// r.mu.
func (r *Router) forgetLocked(clientID, filter string) {
	subs, ok := r.byClient[clientID]
	if !ok {
		return
	}
	delete(subs, filter)
	if len(subs) == 0 {
		delete(r.byClient, clientID)
	}
}

// Match returns every subscriber whose filter covers topic.
func (r *Router) Match(topic string) []SubscriberInfo {
	return r.trie.Match(topic)
}

// MatchWithPublisher is Match with no-local subscriptions of publisherID
// filtered out of the result, per the MQTT 5 NoLocal subscription option.
func (r *Router) MatchWithPublisher(topic, publisherID string) []SubscriberInfo {
	all := r.trie.Match(topic)
	if publisherID == "" {
		return all
	}

	out := make([]SubscriberInfo, 0, len(all))
	for _, sub := range all {
		if sub.NoLocal && sub.ClientID == publisherID {
			continue
		}
		out = append(out, sub)
	}
	return out
}

// GetSubscription looks up clientID's stored Subscription for filter.
func (r *Router) GetSubscription(clientID, filter string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs, ok := r.byClient[clientID]
	if !ok {
		return nil, false
	}
	sub, ok := subs[filter]
	return sub, ok
}

// GetClientSubscriptions lists every Subscription clientID currently holds.
func (r *Router) GetClientSubscriptions(clientID string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs, ok := r.byClient[clientID]
	if !ok {
		return nil
	}
	out := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}
	return out
}

// Count returns the total number of subscriptions registered, across all
// clients and including shared-group members.
func (r *Router) Count() int {
	return r.trie.Count()
}

// CountClients returns the number of distinct clients with at least one
// subscription.
func (r *Router) CountClients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byClient)
}

// Clear discards every subscription from every client.
func (r *Router) Clear() {
	r.mu.Lock()
	r.byClient = make(map[string]map[string]*Subscription)
	r.mu.Unlock()
	r.trie.Clear()
}
