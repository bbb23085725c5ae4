package dynamo

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

type attrs = map[string]map[string]any

// fakeCall is one request received by fakeDynamo.
type fakeCall struct {
	Op         string
	Table      string
	Index      string
	Consistent bool
}

// fakeDynamo speaks enough of the DynamoDB JSON protocol for the recall
// repo: GetItem, DeleteItem, Query (always empty) and TransactWriteItems
// with attribute_not_exists puts and deletes.
type fakeDynamo struct {
	mu    sync.Mutex
	keys  map[string]string           // table -> hash key attribute
	items map[string]map[string]attrs // table -> key value -> item
	calls []fakeCall
}

func newFakeDynamo(t *testing.T, keys map[string]string) (*fakeDynamo, *dynamodb.Client) {
	t.Helper()
	f := &fakeDynamo{keys: keys, items: map[string]map[string]attrs{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	cfg := aws.Config{
		Region:           "us-east-1",
		Credentials:      credentials.NewStaticCredentialsProvider("test", "test", ""),
		RetryMaxAttempts: 1,
	}
	return f, NewClient(cfg, srv.URL)
}

func (f *fakeDynamo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	op := r.Header.Get("X-Amz-Target")
	op = op[strings.Index(op, ".")+1:]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var resp any
	switch op {
	case "GetItem":
		var in struct {
			TableName      string
			Key            attrs
			ConsistentRead bool
		}
		_ = json.Unmarshal(body, &in)
		f.calls = append(f.calls, fakeCall{Op: op, Table: in.TableName, Consistent: in.ConsistentRead})
		out := map[string]any{}
		if item, ok := f.items[in.TableName][keyValue(in.Key)]; ok {
			out["Item"] = item
		}
		resp = out
	case "DeleteItem":
		var in struct {
			TableName string
			Key       attrs
		}
		_ = json.Unmarshal(body, &in)
		f.calls = append(f.calls, fakeCall{Op: op, Table: in.TableName})
		delete(f.items[in.TableName], keyValue(in.Key))
		resp = map[string]any{}
	case "Query":
		var in struct {
			TableName string
			IndexName string
		}
		_ = json.Unmarshal(body, &in)
		f.calls = append(f.calls, fakeCall{Op: op, Table: in.TableName, Index: in.IndexName})
		resp = map[string]any{"Count": 0, "ScannedCount": 0, "Items": []any{}}
	case "TransactWriteItems":
		f.calls = append(f.calls, fakeCall{Op: op})
		if reasons, ok := f.transact(body); !ok {
			w.Header().Set("Content-Type", "application/x-amz-json-1.0")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"__type":              "com.amazonaws.dynamodb.v20120810#TransactionCanceledException",
				"Message":             "Transaction cancelled",
				"CancellationReasons": reasons,
			})
			return
		}
		resp = map[string]any{}
	default:
		http.Error(w, "unsupported operation "+op, http.StatusNotImplemented)
		return
	}
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	_ = json.NewEncoder(w).Encode(resp)
}

// transact applies all writes or none, like the real service.
func (f *fakeDynamo) transact(body []byte) ([]map[string]string, bool) {
	var in struct {
		TransactItems []struct {
			Put *struct {
				TableName string
				Item      attrs
			}
			Delete *struct {
				TableName string
				Key       attrs
			}
		}
	}
	_ = json.Unmarshal(body, &in)

	reasons := make([]map[string]string, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i] = map[string]string{"Code": "None"}
		if ti.Put == nil {
			continue
		}
		k := fmt.Sprint(ti.Put.Item[f.keys[ti.Put.TableName]]["S"])
		if _, exists := f.items[ti.Put.TableName][k]; exists {
			reasons[i] = map[string]string{"Code": "ConditionalCheckFailed", "Message": "The conditional request failed"}
			failed = true
		}
	}
	if failed {
		return reasons, false
	}
	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			t := ti.Put.TableName
			if f.items[t] == nil {
				f.items[t] = map[string]attrs{}
			}
			f.items[t][fmt.Sprint(ti.Put.Item[f.keys[t]]["S"])] = ti.Put.Item
		case ti.Delete != nil:
			delete(f.items[ti.Delete.TableName], keyValue(ti.Delete.Key))
		}
	}
	return nil, true
}

func (f *fakeDynamo) callsTo(op, table string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Op == op && (table == "" || c.Table == table) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeDynamo) count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items[table])
}

func keyValue(key attrs) string {
	for _, v := range key {
		return fmt.Sprint(v["S"])
	}
	return ""
}
