package tagstore

import "testing"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(OpenOptions{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndLookup(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordSession("DU100", "AAPL", "breakout:AAPL:abc", 3); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	tag, ok := s.TagForPosition("DU100", "AAPL")
	if !ok || tag != "breakout:AAPL:abc" {
		t.Fatalf("TagForPosition = %q, %v", tag, ok)
	}
	n, ok := s.ExpectedTakeProfitCount("DU100", "AAPL")
	if !ok || n != 3 {
		t.Fatalf("ExpectedTakeProfitCount = %d, %v", n, ok)
	}

	// 未记录的标的
	if _, ok := s.TagForPosition("DU100", "TSLA"); ok {
		t.Fatalf("未记录的标的不应命中")
	}
}

func TestOverwriteAndDelete(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordSession("DU100", "AAPL", "breakout:AAPL:old", 2); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	if err := s.RecordSession("DU100", "AAPL", "breakout:AAPL:new", 3); err != nil {
		t.Fatalf("RecordSession overwrite: %v", err)
	}
	tag, _ := s.TagForPosition("DU100", "AAPL")
	if tag != "breakout:AAPL:new" {
		t.Fatalf("覆盖写后 tag = %q", tag)
	}

	if err := s.DeleteSession("DU100", "AAPL"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok := s.TagForPosition("DU100", "AAPL"); ok {
		t.Fatalf("删除后不应命中")
	}
	// 重复删除幂等
	if err := s.DeleteSession("DU100", "AAPL"); err != nil {
		t.Fatalf("重复 DeleteSession: %v", err)
	}
}

func TestAttachedSessionHasNoLegCount(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordSession("DU100", "MSFT", "breakout:MSFT:xyz", 0); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	if _, ok := s.ExpectedTakeProfitCount("DU100", "MSFT"); ok {
		t.Fatalf("attached 会话的腿数应视为未知")
	}
}
