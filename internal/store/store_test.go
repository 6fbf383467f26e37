package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedChat(t *testing.T, db *DB, id string) {
	t.Helper()
	if _, err := db.UpsertChat(context.Background(), &Chat{ID: id, AccountID: "acc", ProviderID: "p-" + id}); err != nil {
		t.Fatal(err)
	}
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestUpsertChatTimestampIsMonotonic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	created, err := db.UpsertChat(ctx, &Chat{ID: "c1", AccountID: "acc", ProviderID: "p1", Name: "Alice", Timestamp: "2024-01-01T10:00:00Z", UnreadCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first upsert should report created")
	}

	// Older timestamp and empty name must not overwrite.
	created, err = db.UpsertChat(ctx, &Chat{ID: "c1", AccountID: "acc", ProviderID: "p1", Timestamp: "2023-12-31T10:00:00Z", UnreadCount: 5})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second upsert should report updated")
	}

	c, err := db.GetChat(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Timestamp != "2024-01-01T10:00:00.000Z" {
		t.Errorf("timestamp = %q, want 2024-01-01T10:00:00.000Z", c.Timestamp)
	}
	if c.Name != "Alice" {
		t.Errorf("name = %q, want Alice", c.Name)
	}
	if c.UnreadCount != 5 {
		t.Errorf("unread_count = %d, want 5", c.UnreadCount)
	}
	if !c.IsRead || c.IsIgnored || c.AssistMode != AssistManual {
		t.Errorf("local defaults wrong: %+v", c)
	}

	if _, err := db.UpsertChat(ctx, &Chat{ID: "c1", AccountID: "acc", ProviderID: "p1", Name: "Alice B", Timestamp: "2024-01-02T10:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetChat(ctx, "c1")
	if c.Timestamp != "2024-01-02T10:00:00.000Z" || c.Name != "Alice B" {
		t.Errorf("newer upsert not applied: %+v", c)
	}
}

func TestUpsertChatKeepsLocalFlags(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedChat(t, db, "c1")

	if err := db.SetIgnored(ctx, "c1", true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetAssistMode(ctx, "c1", AssistAutopilot); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkChatUnread(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	seedChat(t, db, "c1")

	c, err := db.GetChat(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsIgnored || c.AssistMode != AssistAutopilot || c.IsRead {
		t.Errorf("local flags lost on upsert: %+v", c)
	}
}

func TestGetChatNotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetChat(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := db.MarkChatRead(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("mark read err = %v, want ErrNotFound", err)
	}
}

func TestSetAssistModeRejectsUnknown(t *testing.T) {
	db := testDB(t)
	seedChat(t, db, "c1")
	if err := db.SetAssistMode(context.Background(), "c1", "turbo"); err == nil {
		t.Error("expected error for unknown assist mode")
	}
}

func TestEnsureChatDoesNotOverwrite(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	created, err := db.EnsureChat(ctx, &Chat{ID: "c1", AccountID: "acc", ProviderID: "p1", Name: "Stub", UnreadCount: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("expected stub to be created")
	}
	created, err = db.EnsureChat(ctx, &Chat{ID: "c1", AccountID: "acc", ProviderID: "p1", Name: "Other"})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second EnsureChat should be a no-op")
	}
	c, _ := db.GetChat(ctx, "c1")
	if c.Name != "Stub" || c.UnreadCount != 1 {
		t.Errorf("stub overwritten: %+v", c)
	}
}

func TestListChatsFilters(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for _, c := range []Chat{
		{ID: "a", AccountID: "acc1", ProviderID: "pa", Timestamp: "2024-01-01T00:00:00Z"},
		{ID: "b", AccountID: "acc1", ProviderID: "pb", Timestamp: "2024-01-03T00:00:00Z"},
		{ID: "c", AccountID: "acc2", ProviderID: "pc", Timestamp: "2024-01-02T00:00:00Z"},
	} {
		if _, err := db.UpsertChat(ctx, &c); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.MarkChatUnread(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetIgnored(ctx, "c", true); err != nil {
		t.Fatal(err)
	}

	all, err := db.ListChats(ctx, ChatQuery{IncludeIgnored: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "b" || all[1].ID != "c" {
		t.Errorf("order = %v, want b,c,a", chatIDs(all))
	}

	visible, _ := db.ListChats(ctx, ChatQuery{})
	if len(visible) != 2 {
		t.Errorf("ignored chat listed: %v", chatIDs(visible))
	}

	unread := false
	got, _ := db.ListChats(ctx, ChatQuery{IsRead: &unread})
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("unread filter = %v, want [a]", chatIDs(got))
	}

	ids, _ := db.ChatIDs(ctx, "acc1")
	if len(ids) != 2 {
		t.Errorf("ChatIDs(acc1) = %v", ids)
	}
}

func chatIDs(cs []Chat) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestAdvanceChatTimestamp(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedChat(t, db, "c1")

	steps := []struct {
		in, want string
	}{
		{"2024-01-01T00:00:10Z", "2024-01-01T00:00:10.000Z"},
		{"2024-01-01T00:00:05Z", "2024-01-01T00:00:10.000Z"},
		{"2024-01-01T00:00:20.5Z", "2024-01-01T00:00:20.500Z"},
		{"", "2024-01-01T00:00:20.500Z"},
	}
	for _, s := range steps {
		if err := db.AdvanceChatTimestamp(ctx, "c1", s.in); err != nil {
			t.Fatal(err)
		}
		c, _ := db.GetChat(ctx, "c1")
		if c.Timestamp != s.want {
			t.Errorf("after %q: timestamp = %q, want %q", s.in, c.Timestamp, s.want)
		}
	}
}

func TestCreateMessageIfAbsentDedup(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedChat(t, db, "c1")

	m := &Message{ID: "m1", ChatID: "c1", ProviderID: "pm1", Text: "hi", Timestamp: "2024-01-01T00:00:00Z"}
	got, err := db.CreateMessageIfAbsent(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("first create returned nil")
	}
	if got.Timestamp != "2024-01-01T00:00:00.000Z" {
		t.Errorf("timestamp = %q", got.Timestamp)
	}

	// Same provider id under a different message id is still a duplicate.
	dup, err := db.CreateMessageIfAbsent(ctx, &Message{ID: "m1-bis", ChatID: "c1", ProviderID: "pm1", Timestamp: "2024-01-01T00:00:00Z"})
	if err != nil {
		t.Fatal(err)
	}
	if dup != nil {
		t.Error("duplicate provider_id should return nil")
	}

	n, _ := db.CountMessages(ctx, "c1")
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestCreateMessageIfAbsentConcurrent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedChat(t, db, "c1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := db.CreateMessageIfAbsent(ctx, &Message{ID: "m1", ChatID: "c1", ProviderID: "pm1", Timestamp: "2024-01-01T00:00:00Z"})
			if err != nil {
				t.Error(err)
				return
			}
			if got != nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Errorf("created = %d, want exactly 1", created)
	}
}

func TestCreateMessageIfAbsentPendingOverride(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedChat(t, db, "c1")

	if _, err := db.CreatePending(ctx, &PendingMessage{MessageID: "out1", ChatID: "c1", Text: "hey", SentByAutopilot: true}); err != nil {
		t.Fatal(err)
	}

	got, err := db.CreateMessageIfAbsent(ctx, &Message{ID: "out1", ChatID: "c1", ProviderID: "prov-out1", Timestamp: "2024-01-01T00:00:00Z"})
	if err != nil {
		t.Fatal(err)
	}
	if got.IsSender != 1 || !got.SentByAutopilot {
		t.Errorf("pending match not applied: is_sender=%d autopilot=%v", got.IsSender, got.SentByAutopilot)
	}

	// Matching by provider id works too.
	if _, err := db.CreatePending(ctx, &PendingMessage{MessageID: "prov-out2", ChatID: "c1"}); err != nil {
		t.Fatal(err)
	}
	got, _ = db.CreateMessageIfAbsent(ctx, &Message{ID: "out2", ChatID: "c1", ProviderID: "prov-out2", Timestamp: "2024-01-01T00:00:01Z"})
	if got.IsSender != 1 || got.SentByAutopilot {
		t.Errorf("provider id match: is_sender=%d autopilot=%v", got.IsSender, got.SentByAutopilot)
	}

	got, _ = db.CreateMessageIfAbsent(ctx, &Message{ID: "in1", ChatID: "c1", Timestamp: "2024-01-01T00:00:02Z"})
	if got.IsSender != 0 {
		t.Errorf("unmatched message is_sender = %d, want 0", got.IsSender)
	}
}

func TestMessageAttachmentsRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedChat(t, db, "c1")

	m := &Message{
		ID: "m1", ChatID: "c1", Timestamp: "2024-01-01T00:00:00Z",
		Attachments: Attachments{
			&ImageAttachment{Media: Media{ID: "a1", URL: "https://x/img.png"}, Width: 10},
			&FileAttachment{Media: Media{ID: "a2"}, FileName: "doc.pdf"},
		},
		Quoted: RawJSON(`{"id":"q"}`),
	}
	if _, err := db.CreateMessageIfAbsent(ctx, m); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Attachments) != 2 {
		t.Fatalf("attachments = %d, want 2", len(got.Attachments))
	}
	img, ok := got.Attachments[0].(*ImageAttachment)
	if !ok || img.Width != 10 || img.URL != "https://x/img.png" {
		t.Errorf("image attachment = %#v", got.Attachments[0])
	}
	if f, ok := got.Attachments[1].(*FileAttachment); !ok || f.FileName != "doc.pdf" {
		t.Errorf("file attachment = %#v", got.Attachments[1])
	}
	if string(got.Reactions) != "[]" {
		t.Errorf("reactions = %s, want []", got.Reactions)
	}
	if string(got.Quoted) != `{"id":"q"}` {
		t.Errorf("quoted = %s", got.Quoted)
	}
}

func TestDecodeAttachments(t *testing.T) {
	raws := []json.RawMessage{
		json.RawMessage(`{"type":"image","id":"1","width":3}`),
		json.RawMessage(`{"type":"linkedin_post","id":"2"}`),
		json.RawMessage(`{"type":"video_meeting","url":"https://meet"}`),
		json.RawMessage(`{"type":"hologram","id":"4"}`),
	}
	got, errs := DecodeAttachments(raws)
	if len(got) != 3 {
		t.Fatalf("decoded %d, want 3", len(got))
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrUnknownAttachment) {
		t.Errorf("errs = %v, want one ErrUnknownAttachment", errs)
	}
	wantKinds := []AttachmentKind{AttachmentImage, AttachmentPost, AttachmentMeeting}
	for i, k := range wantKinds {
		if got[i].Kind() != k {
			t.Errorf("kind[%d] = %s, want %s", i, got[i].Kind(), k)
		}
	}

	enc, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	var back Attachments
	if err := json.Unmarshal(enc, &back); err != nil {
		t.Fatalf("re-decode %s: %v", enc, err)
	}
	if len(back) != 3 || back[2].Kind() != AttachmentMeeting {
		t.Errorf("re-decoded = %v", back)
	}
}

func TestRefreshMessageFlagsLastWriteWins(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedChat(t, db, "c1")

	if _, err := db.CreateMessageIfAbsent(ctx, &Message{ID: "m1", ChatID: "c1", Text: "v1", Timestamp: "2024-01-01T00:00:10Z"}); err != nil {
		t.Fatal(err)
	}

	// A stale snapshot is ignored.
	if err := db.RefreshMessageFlags(ctx, &Message{ID: "m1", Text: "stale", Seen: 1, Timestamp: "2024-01-01T00:00:05Z"}); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetMessage(ctx, "m1")
	if got.Text != "v1" || got.Seen != 0 {
		t.Errorf("stale snapshot applied: %+v", got)
	}

	if err := db.RefreshMessageFlags(ctx, &Message{ID: "m1", Text: "v2", Seen: 1, Edited: 1, Reactions: RawJSON(`[{"value":"+1"}]`), Timestamp: "2024-01-01T00:00:10Z"}); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetMessage(ctx, "m1")
	if got.Text != "v2" || got.Seen != 1 || got.Edited != 1 || string(got.Reactions) != `[{"value":"+1"}]` {
		t.Errorf("snapshot not applied: %+v", got)
	}
}

func TestLatestMessageAndRecent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedChat(t, db, "c1")

	ts, err := db.LatestMessageTimestamp(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if ts != "" {
		t.Errorf("empty chat latest = %q, want empty", ts)
	}
	if _, err := db.LatestMessage(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	for _, m := range []Message{
		{ID: "m2", ChatID: "c1", Timestamp: "2024-01-01T00:00:20Z"},
		{ID: "m1", ChatID: "c1", Timestamp: "2024-01-01T00:00:10Z"},
		{ID: "m3", ChatID: "c1", Timestamp: "2024-01-01T00:00:30Z"},
	} {
		if _, err := db.CreateMessageIfAbsent(ctx, &m); err != nil {
			t.Fatal(err)
		}
	}

	ts, _ = db.LatestMessageTimestamp(ctx, "c1")
	if ts != "2024-01-01T00:00:30.000Z" {
		t.Errorf("latest = %q", ts)
	}
	latest, _ := db.LatestMessage(ctx, "c1")
	if latest.ID != "m3" {
		t.Errorf("latest id = %q, want m3", latest.ID)
	}

	recent, err := db.RecentMessages(ctx, "c1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != "m2" || recent[1].ID != "m3" {
		t.Errorf("recent = %v, want [m2 m3]", recent)
	}

	exists, _ := db.MessageExists(ctx, "m1")
	if !exists {
		t.Error("m1 should exist")
	}
}

func TestAttendeeUpsertReplaces(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := &Attendee{ID: "at1", AccountID: "acc", ProviderID: "prov1", Name: "Bob", PictureURL: "https://pic", Specifics: RawJSON(`{"x":1}`)}
	if err := db.UpsertAttendee(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertAttendee(ctx, &Attendee{ID: "at1", AccountID: "acc", ProviderID: "prov1", Name: "Robert"}); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetAttendeeByProviderID(ctx, "prov1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Robert" || got.PictureURL != "" || len(got.Specifics) != 0 {
		t.Errorf("upsert did not replace: %+v", got)
	}
	if _, err := db.GetAttendee(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAttendeeUpsertFollowsProviderID(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertAttendee(ctx, &Attendee{ID: "a1", ProviderID: "prov1", Name: "Old"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertAttendee(ctx, &Attendee{ID: "a2", ProviderID: "prov1", Name: "New"}); err != nil {
		t.Fatalf("re-sighting under a new id: %v", err)
	}

	got, err := db.GetAttendeeByProviderID(ctx, "prov1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "a2" || got.Name != "New" {
		t.Errorf("attendee = %+v, want id a2 named New", got)
	}
	if _, err := db.GetAttendee(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old id still present: err = %v", err)
	}
}

func TestPendingLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	p, err := db.CreatePending(ctx, &PendingMessage{MessageID: "abc", ChatID: "c1", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != PendingOpen || p.Timestamp == "" {
		t.Errorf("new pending = %+v", p)
	}

	// Not due before the debounce cutoff.
	due, _ := db.DuePending(ctx, time.Now().Add(-time.Minute))
	if len(due) != 0 {
		t.Errorf("due = %d, want 0", len(due))
	}
	due, _ = db.DuePending(ctx, time.Now().Add(time.Second))
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1", len(due))
	}

	for i := 1; i <= 3; i++ {
		status, attempts, err := db.IncrementPendingAttempts(ctx, "abc", 3)
		if err != nil {
			t.Fatal(err)
		}
		if attempts != i {
			t.Errorf("attempts = %d, want %d", attempts, i)
		}
		want := PendingOpen
		if i == 3 {
			want = PendingFailed
		}
		if status != want {
			t.Errorf("after %d attempts status = %s, want %s", i, status, want)
		}
	}

	// Failed rows are terminal.
	status, attempts, _ := db.IncrementPendingAttempts(ctx, "abc", 3)
	if status != PendingFailed || attempts != 3 {
		t.Errorf("failed row changed: %s %d", status, attempts)
	}
}

func TestPendingSyncedAndPurge(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := db.CreatePending(ctx, &PendingMessage{MessageID: id, ChatID: "c1"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.MarkPendingSynced(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	counts, err := db.PendingCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[PendingOpen] != 1 || counts[PendingSynced] != 1 || counts[PendingFailed] != 0 {
		t.Errorf("counts = %v", counts)
	}

	n, _ := db.PurgeSynced(ctx, time.Now().Add(-time.Hour))
	if n != 0 {
		t.Errorf("purged fresh synced row")
	}
	n, _ = db.PurgeSynced(ctx, time.Now().Add(time.Second))
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}

	rows, _ := db.ListPending(ctx, "", 0)
	if len(rows) != 1 || rows[0].MessageID != "b" {
		t.Errorf("remaining = %+v", rows)
	}
}

func TestCheckpoint(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	v, err := db.GetCheckpoint(ctx, "last_full_sync")
	if err != nil || v != "" {
		t.Errorf("missing checkpoint = %q, %v", v, err)
	}
	if err := db.SetCheckpoint(ctx, "last_full_sync", "1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint(ctx, "last_full_sync", "2"); err != nil {
		t.Fatal(err)
	}
	v, _ = db.GetCheckpoint(ctx, "last_full_sync")
	if v != "2" {
		t.Errorf("checkpoint = %q, want 2", v)
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	cases := map[string]string{
		"2024-01-01T00:00:00Z":          "2024-01-01T00:00:00.000Z",
		"2024-01-01T02:00:00.123+02:00": "2024-01-01T00:00:00.123Z",
		"2024-01-01 10:00:00":           "2024-01-01T10:00:00.000Z",
		"2024-01-01T10:00:00.5":         "2024-01-01T10:00:00.500Z",
		"2024-01-01 12:00:00+02:00":     "2024-01-01T10:00:00.000Z",
		"not a time":                    "not a time",
		"":                              "",
	}
	for in, want := range cases {
		if got := NormalizeTimestamp(in); got != want {
			t.Errorf("NormalizeTimestamp(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("ParseTimestamp accepted an unparseable value")
	}
}
