package dynamo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/recallbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpdateExpr_SingleField(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{"status": "published"})
	require.NoError(t, err)
	assert.Equal(t, "SET #f0 = :v0", ue.Expr)
	assert.Equal(t, map[string]string{"#f0": "status"}, ue.Names)
	_, ok := ue.Values[":v0"]
	assert.True(t, ok)
}

func TestBuildUpdateExpr_MultipleFields_Deterministic(t *testing.T) {
	updates := map[string]interface{}{
		"uri":        "at://did/app.bsky.feed.post/1",
		"cid":        "bafy",
		"status":     "published",
		"updated_at": "2025-01-01T00:00:00Z",
	}
	ue1, err := buildUpdateExpr(updates)
	require.NoError(t, err)
	ue2, err := buildUpdateExpr(updates)
	require.NoError(t, err)

	assert.Equal(t, ue1.Expr, ue2.Expr)

	// Keys must be sorted: cid < status < updated_at < uri
	assert.Equal(t, "cid", ue1.Names["#f0"])
	assert.Equal(t, "status", ue1.Names["#f1"])
	assert.Equal(t, "updated_at", ue1.Names["#f2"])
	assert.Equal(t, "uri", ue1.Names["#f3"])
	assert.Equal(t, "SET #f0 = :v0, #f1 = :v1, #f2 = :v2, #f3 = :v3", ue1.Expr)
}

func TestBuildUpdateExpr_ValuesMarshalledCorrectly(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{"attempts": 3})
	require.NoError(t, err)
	av, ok := ue.Values[":v0"]
	require.True(t, ok)
	n, isNum := av.(*types.AttributeValueMemberN)
	require.True(t, isNum)
	assert.Equal(t, "3", n.Value)
}

func TestBuildUpdateExpr_EmptyMap_ReturnsError(t *testing.T) {
	_, err := buildUpdateExpr(map[string]interface{}{})
	assert.ErrorContains(t, err, "no fields to update")
}

func TestUpdateExpr_WithMergesConditionPlaceholders(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{"status": "failed"})
	require.NoError(t, err)
	ue = ue.with(map[string]string{"#st": "status"}, map[string]types.AttributeValue{":pending": str("pending")})
	assert.Equal(t, "status", ue.Names["#st"])
	assert.Equal(t, "status", ue.Names["#f0"])
	assert.Contains(t, ue.Values, ":pending")
}

func TestIsConditionFailed(t *testing.T) {
	wrapped := fmt.Errorf("put: %w", &types.ConditionalCheckFailedException{})
	_, ok := isConditionFailed(wrapped)
	assert.True(t, ok)
	_, ok = isConditionFailed(errors.New("throttled"))
	assert.False(t, ok)
}

func TestCursorRoundTrip(t *testing.T) {
	key := "https://www.fda.gov/safety/recalls/a?b=c"
	got, err := decodeCursor(encodeCursor(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = decodeCursor("%%")
	assert.Error(t, err)
}

func TestPageDesc(t *testing.T) {
	ids := []string{"01A", "01C", "01B", "01E", "01D"}
	self := func(s string) string { return s }

	page, next, err := pageDesc(append([]string(nil), ids...), self, 2, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"01E", "01D"}, page)
	require.NotEmpty(t, next)

	page, next, err = pageDesc(append([]string(nil), ids...), self, 2, next)
	require.NoError(t, err)
	assert.Equal(t, []string{"01C", "01B"}, page)

	page, next, err = pageDesc(append([]string(nil), ids...), self, 2, next)
	require.NoError(t, err)
	assert.Equal(t, []string{"01A"}, page)
	assert.Empty(t, next)
}

func TestPageDesc_BadCursor(t *testing.T) {
	_, _, err := pageDesc([]string{"a"}, func(s string) string { return s }, 10, "%%")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}
