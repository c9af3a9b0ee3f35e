package record

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Field names and sentinel values the transform rules operate on.
const (
	fieldUserTitle     = "user_title"
	fieldUserGroup     = "user_group"
	fieldUserRole      = "user_role"
	fieldUserStatistic = "user_statistic"
	fieldParameter     = "parameter"

	segmentInternal = "Internal"
	defaultCircDesk = "DEFAULT_CIRC_DESK"
)

// Rules configures which transform sub-rules are active. A Rules value is
// built once at startup and must not be mutated during a run.
type Rules struct {
	// CategoriesToRemove lists category_type values whose statistic entries
	// are dropped from every user.
	CategoriesToRemove Set

	// ExternalGroups lists user groups classified as external. Users in
	// these groups additionally lose any statistic with an Internal segment;
	// such entries are anomalous and are logged when removed.
	ExternalGroups Set

	// NormalizeTitles enables the user_title normalization rule.
	NormalizeTitles bool

	// PruneRoleParameters enables the role parameter pruning rule.
	PruneRoleParameters bool
}

// Transformer applies the configured rules to user documents. Apply is
// deterministic and idempotent: a second application of the same rules to
// its own output reports no change.
type Transformer struct {
	rules  Rules
	logger zerolog.Logger
}

// NewTransformer creates a Transformer for the given rules.
func NewTransformer(rules Rules) *Transformer {
	return &Transformer{
		rules:  rules,
		logger: log.With().Str("component", "transform").Logger(),
	}
}

// Apply runs every active rule against the document in place and reports
// whether anything changed. Entries with missing or unexpected sub-fields
// are always retained rather than treated as errors.
func (t *Transformer) Apply(userID string, doc Document) bool {
	changed := false
	if t.rules.NormalizeTitles {
		changed = t.normalizeTitle(userID, doc) || changed
	}
	if t.rules.PruneRoleParameters {
		changed = pruneRoleParameters(doc) || changed
	}
	changed = t.pruneStatistics(userID, doc) || changed
	return changed
}

// normalizeTitle removes a user_title that carries no description, and
// upper-cases the title value otherwise.
func (t *Transformer) normalizeTitle(userID string, doc Document) bool {
	title, ok := ObjectAt(doc, fieldUserTitle)
	if !ok {
		return false
	}
	if _, hasDesc := title["desc"]; !hasDesc {
		value, _ := StringAt(title, "value")
		t.logger.Warn().
			Str("user_id", userID).
			Str("title", value).
			Msg("User title has no description, removing it")
		delete(doc, fieldUserTitle)
		return true
	}
	if value, ok := StringAt(title, "value"); ok {
		upper := strings.ToUpper(value)
		if upper != value {
			title["value"] = upper
			return true
		}
	}
	return false
}

// pruneRoleParameters drops role parameters that carry the default
// circulation desk sentinel or an empty description.
func pruneRoleParameters(doc Document) bool {
	roles, ok := ArrayAt(doc, fieldUserRole)
	if !ok {
		return false
	}
	changed := false
	for _, r := range roles {
		role, ok := r.(map[string]any)
		if !ok {
			continue
		}
		params, ok := ArrayAt(role, fieldParameter)
		if !ok {
			continue
		}
		kept := make([]any, 0, len(params))
		for _, p := range params {
			if prunableRoleParameter(p) {
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) != len(params) {
			role[fieldParameter] = kept
			changed = true
		}
	}
	return changed
}

func prunableRoleParameter(p any) bool {
	param, ok := p.(map[string]any)
	if !ok {
		return false
	}
	if v, ok := StringAt(param, "value", "value"); ok && v == defaultCircDesk {
		return true
	}
	if d, ok := StringAt(param, "value", "desc"); ok && d == "" {
		return true
	}
	return false
}

// pruneStatistics drops statistic entries whose category is in the removal
// set, and internal-segment entries on users in an external group. Entries
// are only ever dropped whole, never edited.
func (t *Transformer) pruneStatistics(userID string, doc Document) bool {
	stats, ok := ArrayAt(doc, fieldUserStatistic)
	if !ok {
		return false
	}
	group, _ := StringAt(doc, fieldUserGroup, "value")
	external := t.rules.ExternalGroups.Contains(group)

	kept := make([]any, 0, len(stats))
	for _, s := range stats {
		stat, ok := s.(map[string]any)
		if !ok {
			kept = append(kept, s)
			continue
		}
		if segment, ok := StringAt(stat, "segment_type"); ok && segment == segmentInternal && external {
			t.logger.Warn().
				Str("user_id", userID).
				Str("user_group", group).
				Interface("statistic", stat).
				Msg("Removing internal statistic from externally classified user")
			continue
		}
		if category, ok := StringAt(stat, "category_type", "value"); ok && t.rules.CategoriesToRemove.Contains(category) {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == len(stats) {
		return false
	}
	doc[fieldUserStatistic] = kept
	return true
}
