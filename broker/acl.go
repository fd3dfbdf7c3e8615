package broker

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/embermqtt/ember/hook"
	"github.com/embermqtt/ember/topic"
)

// ACL authentication methods, per §6.
const (
	ACLMethodSHA256          = "sha256"
	ACLMethodPlainPassword   = "plain_password"
	ACLMethodClientCert      = "client_cert"
	ACLMethodAnonymous       = "anonymous"
	ACLMethodUnauthenticated = "unauthenticated"
)

// anyGroup is the special group every principal belongs to.
const anyGroup = "@any"

// aclUser is one entry of the authentication[] section.
type aclUser struct {
	Name   string `json:"name" validate:"required"`
	Method string `json:"method" validate:"required,oneof=sha256 plain_password client_cert anonymous unauthenticated"`
	Digest string `json:"digest,omitempty"`
	Salt   string `json:"salt,omitempty"`
}

// aclGroup is one entry of the group[] section.
type aclGroup struct {
	Name    string   `json:"name" validate:"required,startswith=@"`
	Members []string `json:"members"`
}

// aclRuleSet is the pub/sub filter lists of an allow or deny clause.
type aclRuleSet struct {
	Pub []string `json:"pub"`
	Sub []string `json:"sub"`
}

// aclRule is one entry of the authorization[] section.
type aclRule struct {
	Topic string      `json:"topic" validate:"required"`
	Allow *aclRuleSet `json:"allow,omitempty"`
	Deny  *aclRuleSet `json:"deny,omitempty"`
}

// aclFile is the decoded shape of the JSON ACL file.
type aclFile struct {
	Authentication []aclUser  `json:"authentication"`
	Group          []aclGroup `json:"group"`
	Authorization  []aclRule  `json:"authorization"`
}

// ACLHook is a hook.Hook driven by a JSON file: it authenticates CONNECTs
// against the authentication[] table and authorizes PUBLISH/SUBSCRIBE
// against the authorization[] table, ranked by file order with a default
// deny. Reload replaces the whole table atomically.
type ACLHook struct {
	*hook.Base

	mu       sync.RWMutex
	users    map[string]aclUser
	groups   map[string]map[string]struct{} // group name -> member set
	memberOf map[string]map[string]struct{} // user name -> group set (always includes @any)
	rules    []aclRule
	matcher  *topic.TopicMatcher
}

// NewACLHook constructs an empty ACLHook; call Load to populate it.
func NewACLHook() *ACLHook {
	return &ACLHook{
		Base:    hook.NewHookBase("acl"),
		matcher: topic.NewTopicMatcher(),
	}
}

// Provides reports that this hook authenticates and authorizes.
func (h *ACLHook) Provides(event hook.Event) bool {
	return event == hook.OnConnectAuthenticate || event == hook.OnACLCheck
}

var blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)

// stripComments removes // line comments and /* */ block comments from raw
// JSON text so the ACL file can carry explanatory comments despite JSON's
// own syntax not allowing them.
func stripComments(raw []byte) []byte {
	raw = blockComment.ReplaceAll(raw, nil)

	var out bytes.Buffer
	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(raw) && raw[i+1] == '/' {
			for i < len(raw) && raw[i] != '\n' {
				i++
			}
			out.WriteByte('\n')
			continue
		}
		out.WriteByte(c)
	}
	return out.Bytes()
}

// Load parses, validates, and installs an ACL file's contents. A validation
// or structural error is returned to the caller to log and treat as a fatal
// startup error; Load never panics.
func (h *ACLHook) Load(raw []byte) error {
	var file aclFile
	if err := json.Unmarshal(stripComments(raw), &file); err != nil {
		return fmt.Errorf("acl: parse: %w", err)
	}

	v := validator.New()
	anonymousSeen, unauthenticatedSeen := false, false
	for i := range file.Authentication {
		u := file.Authentication[i]
		if err := v.Struct(u); err != nil {
			return fmt.Errorf("acl: authentication[%d] %q: %w", i, u.Name, err)
		}
		switch u.Method {
		case ACLMethodAnonymous:
			if anonymousSeen {
				return fmt.Errorf("acl: only one %s user is allowed", ACLMethodAnonymous)
			}
			anonymousSeen = true
		case ACLMethodUnauthenticated:
			if unauthenticatedSeen {
				return fmt.Errorf("acl: only one %s user is allowed", ACLMethodUnauthenticated)
			}
			unauthenticatedSeen = true
		}
	}
	for i := range file.Group {
		if err := v.Struct(file.Group[i]); err != nil {
			return fmt.Errorf("acl: group[%d]: %w", i, err)
		}
	}
	for i := range file.Authorization {
		if err := v.Struct(file.Authorization[i]); err != nil {
			return fmt.Errorf("acl: authorization[%d]: %w", i, err)
		}
	}

	users := make(map[string]aclUser, len(file.Authentication))
	for _, u := range file.Authentication {
		users[u.Name] = u
	}

	groups := make(map[string]map[string]struct{}, len(file.Group)+1)
	groups[anyGroup] = nil // membership in @any is implicit, not enumerated
	for _, g := range file.Group {
		members := make(map[string]struct{}, len(g.Members))
		for _, m := range g.Members {
			members[m] = struct{}{}
		}
		groups[g.Name] = members
	}

	memberOf := make(map[string]map[string]struct{}, len(users))
	ensure := func(user string) map[string]struct{} {
		gs, ok := memberOf[user]
		if !ok {
			gs = map[string]struct{}{anyGroup: {}}
			memberOf[user] = gs
		}
		return gs
	}
	for user := range users {
		ensure(user)
	}
	for name, members := range groups {
		for user := range members {
			ensure(user)[name] = struct{}{}
		}
	}

	h.mu.Lock()
	h.users = users
	h.groups = groups
	h.memberOf = memberOf
	h.rules = file.Authorization
	h.mu.Unlock()
	return nil
}

// OnConnectAuthenticate accepts the connection if its username names a
// registered user under a method this hook can itself verify, or if the
// table names an anonymous/unauthenticated user and the packet matches that
// shape. client_cert identities are taken on faith here: verifying the peer
// certificate itself is the listener's job (network.TLSVerifier), not this
// hook's.
func (h *ACLHook) OnConnectAuthenticate(client *hook.Client, packet *hook.ConnectPacket) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if packet.Username == "" && packet.Password == nil {
		u, ok := h.findByMethod(ACLMethodAnonymous)
		return ok && u.Name != ""
	}

	u, ok := h.users[packet.Username]
	if !ok {
		return false
	}
	switch u.Method {
	case ACLMethodPlainPassword:
		return subtle.ConstantTimeCompare([]byte(u.Digest), packet.Password) == 1
	case ACLMethodSHA256:
		sum := sha256.Sum256(append([]byte(u.Salt), packet.Password...))
		return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(u.Digest)) == 1
	case ACLMethodClientCert, ACLMethodUnauthenticated:
		return true
	default:
		return false
	}
}

func (h *ACLHook) findByMethod(method string) (aclUser, bool) {
	for _, u := range h.users {
		if u.Method == method {
			return u, true
		}
	}
	return aclUser{}, false
}

// OnACLCheck walks the authorization table in file order and returns the
// decision of the first rule whose topic matches and whose allow/deny list
// names this user, directly or through group membership. No matching rule
// is a deny.
func (h *ACLHook) OnACLCheck(client *hook.Client, topicName string, access hook.AccessType) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	groups := h.memberOf[client.Username]

	for _, rule := range h.rules {
		if !h.matcher.Match(rule.Topic, topicName) {
			continue
		}
		if rule.Deny != nil && h.principalMatches(client.Username, groups, access, rule.Deny) {
			return false
		}
		if rule.Allow != nil && h.principalMatches(client.Username, groups, access, rule.Allow) {
			return true
		}
	}
	return false
}

func (h *ACLHook) principalMatches(user string, groups map[string]struct{}, access hook.AccessType, set *aclRuleSet) bool {
	principals := set.Pub
	if access == hook.AccessTypeRead {
		principals = set.Sub
	}
	for _, p := range principals {
		if p == user {
			return true
		}
		if _, member := groups[p]; member {
			return true
		}
		if p == anyGroup {
			return true
		}
	}
	return false
}
