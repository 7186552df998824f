package model

// RuleSet is the eligibility predicate of one slot. The zero value is a
// closed rule that admits nobody.
type RuleSet struct {
	AllowRich      bool     `json:"allow_rich"`
	AllowedClasses ClassSet `json:"classes"`
}

// ClosedRule returns the rule used for slots nobody configured.
func ClosedRule() RuleSet { return RuleSet{} }

// NewRuleSet builds a rule from class names, rejecting unknown names.
func NewRuleSet(allowRich bool, classes ...string) (RuleSet, error) {
	set, err := ParseClassSet(classes...)
	if err != nil {
		return RuleSet{}, err
	}
	return RuleSet{AllowRich: allowRich, AllowedClasses: set}, nil
}

// MustRuleSet is NewRuleSet for static tables; it panics on unknown names.
func MustRuleSet(allowRich bool, classes ...string) RuleSet {
	r, err := NewRuleSet(allowRich, classes...)
	if err != nil {
		panic(err)
	}
	return r
}

// NewRuleSets expands a sparse slot->rule table into a dense vector of n
// rules. Missing slots are closed.
func NewRuleSets(n int, specified map[int]RuleSet) ([]RuleSet, error) {
	const op = "model.rule_sets"
	if n < 1 {
		return nil, Errorf(op, ErrInvalidRule, "slot count must be positive, got %d", n)
	}
	rules := make([]RuleSet, n)
	for idx, r := range specified {
		if idx < 0 || idx >= n {
			return nil, Errorf(op, ErrInvalidRule, "rule for slot %d outside 0..%d", idx, n-1)
		}
		rules[idx] = r
	}
	return rules, nil
}

// Closed reports whether no signup can satisfy the rule.
func (r RuleSet) Closed() bool { return !r.AllowRich && r.AllowedClasses.Empty() }

// Admits reports whether rec satisfies the rule. A rich record is judged by
// AllowRich only; its class is ignored.
func (r RuleSet) Admits(rec SignupRecord) bool {
	if rec.IsRich {
		return r.AllowRich
	}
	return r.AllowedClasses.Has(rec.Class)
}

// Describe renders the rule for outcome messages.
func (r RuleSet) Describe() string {
	switch {
	case r.Closed():
		return "closed slot"
	case r.AllowRich && r.AllowedClasses.Empty():
		return "rich slot"
	}
	desc := ""
	for i, n := range r.AllowedClasses.Names() {
		if i > 0 {
			desc += "/"
		}
		desc += n
	}
	if r.AllowRich {
		desc += "/rich"
	}
	return desc + " slot"
}
