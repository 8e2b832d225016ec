package internal

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/Knetic/govaluate"

	"formhooks/pkg/record"
)

// Route sends records matching When to the listed sinks.
type Route struct {
	When  string   `yaml:"when"`
	Sinks []string `yaml:"sinks"`
}

type compiledRoute struct {
	when  string
	sinks []string
	expr  *govaluate.EvaluableExpression
}

// RuleEngine picks sinks for a record from the configured routes.
type RuleEngine struct {
	routes []compiledRoute
	logger *log.Logger
}

func NewRuleEngine(cfg RulesConfig) (*RuleEngine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	routes := make([]compiledRoute, 0, len(cfg.Routes))
	for _, route := range cfg.Routes {
		expr, err := govaluate.NewEvaluableExpression(route.When)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", route.When, err)
		}
		routes = append(routes, compiledRoute{when: route.When, sinks: route.Sinks, expr: expr})
	}

	return &RuleEngine{routes: routes, logger: logger}, nil
}

// Evaluate returns the union of sinks from every matching route. A nil
// result means no routes are configured and every sink applies; an empty
// result means routes exist but none matched.
func (r *RuleEngine) Evaluate(rec record.Record) []string {
	if r == nil || len(r.routes) == 0 {
		return nil
	}

	params := recordParameters(RecordParams(rec))
	matches := make([]string, 0, 2)
	seen := make(map[string]struct{})
	for _, route := range r.routes {
		result, err := route.expr.Eval(params)
		if err != nil {
			r.logger.Printf("route eval failed when=%q record_id=%s err=%v", route.when, rec.RecordID, err)
			continue
		}
		ok, _ := result.(bool)
		if !ok {
			continue
		}
		for _, name := range route.sinks {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			matches = append(matches, name)
		}
	}
	return matches
}

// RecordParams flattens a record into expression parameters: event,
// record_id, submitted_at, repaired, fields.<name> and payload.<path>.
func RecordParams(rec record.Record) map[string]interface{} {
	data := map[string]interface{}{
		"event":        rec.Event,
		"record_id":    rec.RecordID,
		"submitted_at": rec.SubmittedAt,
		"repaired":     rec.Repaired,
		"fields":       rec.Fields,
	}
	if len(rec.Raw) > 0 {
		var payload map[string]interface{}
		if err := json.Unmarshal(rec.Raw, &payload); err == nil {
			data["payload"] = payload
		}
	}
	return Flatten(data)
}

// recordParameters resolves absent form fields to "" so routes can test
// optional fields without failing.
type recordParameters map[string]interface{}

func (p recordParameters) Get(name string) (interface{}, error) {
	if value, ok := p[name]; ok {
		return value, nil
	}
	if strings.HasPrefix(name, "fields.") {
		return "", nil
	}
	return nil, fmt.Errorf("no parameter %q found", name)
}
