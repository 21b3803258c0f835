package idempotency

import (
	"testing"

	"github.com/brokerops/core/pkg/contracts"
)

const testHash = "aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00"

func TestParseRecordReplyAccepted(t *testing.T) {
	res, err := parseRecordReply([]interface{}{int64(1), testHash, ""}, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Accepted || res.PayloadHash != testHash {
		t.Fatalf("expected accepted with the payload hash, got %+v", res)
	}
}

func TestParseRecordReplyReplay(t *testing.T) {
	res, err := parseRecordReply([]interface{}{int64(0), testHash, `{"status":"applied"}`}, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted || res.PayloadMismatch {
		t.Fatalf("identical replay must not be accepted or mismatched, got %+v", res)
	}
	if string(res.PriorResult) != `{"status":"applied"}` {
		t.Fatalf("unexpected prior result: %s", res.PriorResult)
	}
}

func TestParseRecordReplyReplayWithoutResult(t *testing.T) {
	res, err := parseRecordReply([]interface{}{int64(0), testHash, ""}, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted || res.PriorResult != nil {
		t.Fatalf("empty stored result must stay nil, got %+v", res)
	}
}

func TestParseRecordReplyMismatch(t *testing.T) {
	res, err := parseRecordReply([]interface{}{int64(0), "a-different-hash", ""}, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if !res.PayloadMismatch || res.Reason != contracts.ReasonPayloadMismatch {
		t.Fatalf("expected PAYLOAD_MISMATCH, got %+v", res)
	}
}

func TestParseRecordReplyMalformed(t *testing.T) {
	cases := []interface{}{
		nil,
		"OK",
		[]interface{}{int64(1)},
		[]interface{}{"1", testHash, ""},
	}
	for _, raw := range cases {
		if _, err := parseRecordReply(raw, testHash); err == nil {
			t.Errorf("expected an error for reply %v", raw)
		}
	}
}
