package mengla

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	apperrors "mengla-gateway/internal/common/errors"
)

const (
	QueryKeyPrefix = "query:"
	ExecKeyPrefix  = "exec:"
)

// keyFields are the QueryParams fields that take part in the cache key, in key order.
var keyFields = []string{"action", "product_id", "catId", "dateType", "timest", "starRange", "endRange"}

// QueryParams identifies one logical query against the collection platform.
// Fields outside the key subset are carried in Extra and forwarded to the
// platform, but never change the cache key.
type QueryParams struct {
	Action    string
	ProductID string
	CatID     string
	DateType  string
	Timest    string
	StarRange string
	EndRange  string
	Extra     map[string]interface{}
}

// normalizedParams is the key subset; its field order fixes the canonical JSON.
type normalizedParams struct {
	Action    string `json:"action"`
	ProductID string `json:"product_id"`
	CatID     string `json:"catId"`
	DateType  string `json:"dateType"`
	Timest    string `json:"timest"`
	StarRange string `json:"starRange"`
	EndRange  string `json:"endRange"`
}

func (p QueryParams) normalized() normalizedParams {
	return normalizedParams{
		Action:    p.Action,
		ProductID: p.ProductID,
		CatID:     p.CatID,
		DateType:  p.DateType,
		Timest:    p.Timest,
		StarRange: p.StarRange,
		EndRange:  p.EndRange,
	}
}

// Validate checks the fields the platform cannot do without.
func (p QueryParams) Validate() error {
	if p.Action == "" {
		return apperrors.NewInvalidQueryParamsError("action is required")
	}
	return nil
}

// CacheKey derives the de-duplication key: query:<action>:<16 hex chars of
// SHA-256 over the canonical JSON of the normalized subset>.
func (p QueryParams) CacheKey() string {
	canonical, _ := json.Marshal(p.normalized()) // strings only, cannot fail
	sum := sha256.Sum256(canonical)
	return QueryKeyPrefix + p.Action + ":" + hex.EncodeToString(sum[:8])
}

// Parameters is the body sent to the platform: the normalized subset plus Extra.
// Key fields always win over Extra entries of the same name.
func (p QueryParams) Parameters() map[string]interface{} {
	out := make(map[string]interface{}, len(p.Extra)+len(keyFields))
	for k, v := range p.Extra {
		out[k] = v
	}
	n := p.normalized()
	out["action"] = n.Action
	out["product_id"] = n.ProductID
	out["catId"] = n.CatID
	out["dateType"] = n.DateType
	out["timest"] = n.Timest
	out["starRange"] = n.StarRange
	out["endRange"] = n.EndRange
	return out
}

func (p QueryParams) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Parameters())
}

// UnmarshalJSON accepts numbers and booleans for key fields, since the
// dashboard sends catId and timest both ways.
func (p *QueryParams) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	*p = QueryParams{}
	targets := map[string]*string{
		"action":     &p.Action,
		"product_id": &p.ProductID,
		"catId":      &p.CatID,
		"dateType":   &p.DateType,
		"timest":     &p.Timest,
		"starRange":  &p.StarRange,
		"endRange":   &p.EndRange,
	}

	for k, v := range raw {
		target, ok := targets[k]
		if !ok {
			if p.Extra == nil {
				p.Extra = make(map[string]interface{})
			}
			p.Extra[k] = v
			continue
		}
		s, err := scalarString(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		*target = s
	}
	return nil
}

func scalarString(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		return "", fmt.Errorf("expected a scalar, got %T", v)
	}
}

// ExtraKeys lists Extra keys in sorted order (for logging).
func (p QueryParams) ExtraKeys() []string {
	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExecKey is the transient cache key for an execution id.
func ExecKey(executionID string) string {
	return ExecKeyPrefix + executionID
}

// ExecutionStatus is the lifecycle state recorded in the execution log.
type ExecutionStatus string

const (
	StatusDispatched ExecutionStatus = "dispatched"
	StatusDelivered  ExecutionStatus = "delivered"
	StatusResolved   ExecutionStatus = "resolved"
	StatusTimedOut   ExecutionStatus = "timed_out"
)

// ExecutionRecord is one row of the execution log.
type ExecutionRecord struct {
	ExecutionID  string          `json:"executionId"`
	CacheKey     string          `json:"cacheKey"`
	Action       string          `json:"action"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Status       ExecutionStatus `json:"status"`
	DispatchedAt time.Time       `json:"dispatchedAt"`
	DeliveredAt  *time.Time      `json:"deliveredAt,omitempty"`
	ResolvedAt   *time.Time      `json:"resolvedAt,omitempty"`
}
