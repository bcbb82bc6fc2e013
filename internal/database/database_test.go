package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pbxlink/pbxlink/internal/database/models"
)

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	// Verify database file was created.
	dbPath := filepath.Join(dir, "pbxlink.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	// Verify WAL mode is active.
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	// Verify all tables exist.
	tables := []string{
		"schema_migrations", "system_config", "users", "servers",
		"pbx_users", "user_channels", "partners", "partner_messages",
		"calls", "channels", "recordings",
	}
	for _, table := range tables {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	// Open twice to verify migrations don't fail on re-run.
	db1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	db1.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	db2.Close()
}

func TestSystemConfigRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	repo, err := NewSystemConfigRepository(ctx, db)
	if err != nil {
		t.Fatalf("NewSystemConfigRepository() error: %v", err)
	}

	// Get non-existent key returns empty string.
	val, err := repo.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if val != "" {
		t.Errorf("Get(nonexistent) = %q, want empty", val)
	}

	// Set and get.
	if err := repo.Set(ctx, ConfKeyRecordingsKeepDays, "365"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	days, err := repo.GetInt(ctx, ConfKeyRecordingsKeepDays, 0)
	if err != nil {
		t.Fatalf("GetInt() error: %v", err)
	}
	if days != 365 {
		t.Errorf("GetInt(keep_days) = %d, want 365", days)
	}

	// Update existing key.
	if err := repo.Set(ctx, ConfKeyRecordingsKeepDays, "30"); err != nil {
		t.Fatalf("Set() update error: %v", err)
	}
	days, _ = repo.GetInt(ctx, ConfKeyRecordingsKeepDays, 0)
	if days != 30 {
		t.Errorf("GetInt(keep_days) = %d, want 30", days)
	}

	// Booleans.
	if err := repo.Set(ctx, ConfKeyIsSubscribed, "true"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	sub, err := repo.GetBool(ctx, ConfKeyIsSubscribed)
	if err != nil {
		t.Fatalf("GetBool() error: %v", err)
	}
	if !sub {
		t.Error("GetBool(is_subscribed) = false, want true")
	}

	// GetAll.
	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("GetAll() returned %d entries, want 2", len(all))
	}
}

func TestUserAndServerRepositories(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := NewUserRepository(db)
	servers := NewServerRepository(db)

	u := &models.User{Login: "admin", Name: "Admin", IsInternal: true}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("Create() user error: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("user ID not set after Create()")
	}

	got, err := users.GetByLogin(ctx, "admin")
	if err != nil {
		t.Fatalf("GetByLogin() error: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Fatalf("GetByLogin() = %+v, want ID %d", got, u.ID)
	}

	srv := &models.Server{Name: "PBX", UserID: u.ID, ConnectionMode: "webhook", SIPProtocol: "PJSIP"}
	if err := servers.Create(ctx, srv); err != nil {
		t.Fatalf("Create() server error: %v", err)
	}

	// One server per owning user account.
	dup := &models.Server{Name: "Another", UserID: u.ID}
	if err := servers.Create(ctx, dup); err == nil {
		t.Error("expected unique constraint error for second server with same user_id")
	}

	def, err := servers.GetDefault(ctx)
	if err != nil {
		t.Fatalf("GetDefault() error: %v", err)
	}
	if def == nil || def.ID != srv.ID {
		t.Fatalf("GetDefault() = %+v, want ID %d", def, srv.ID)
	}
}

func TestPbxUserUniqueness(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := NewUserRepository(db)
	servers := NewServerRepository(db)
	pbxUsers := NewPbxUserRepository(db)

	owner := &models.User{Login: "owner", Name: "Owner"}
	if err := users.Create(ctx, owner); err != nil {
		t.Fatalf("Create() user error: %v", err)
	}
	alice := &models.User{Login: "alice", Name: "Alice"}
	if err := users.Create(ctx, alice); err != nil {
		t.Fatalf("Create() user error: %v", err)
	}
	bob := &models.User{Login: "bob", Name: "Bob"}
	if err := users.Create(ctx, bob); err != nil {
		t.Fatalf("Create() user error: %v", err)
	}

	srv := &models.Server{Name: "PBX", UserID: owner.ID}
	if err := servers.Create(ctx, srv); err != nil {
		t.Fatalf("Create() server error: %v", err)
	}

	pu := &models.PbxUser{Exten: "101", UserID: alice.ID, ServerID: srv.ID}
	if err := pbxUsers.Create(ctx, pu); err != nil {
		t.Fatalf("Create() pbx user error: %v", err)
	}

	// Same extension on the same server is rejected.
	if err := pbxUsers.Create(ctx, &models.PbxUser{Exten: "101", UserID: bob.ID, ServerID: srv.ID}); err == nil {
		t.Error("expected unique constraint error for duplicate exten on server")
	}

	// Same user twice on the same server is rejected.
	if err := pbxUsers.Create(ctx, &models.PbxUser{Exten: "102", UserID: alice.ID, ServerID: srv.ID}); err == nil {
		t.Error("expected unique constraint error for duplicate user on server")
	}

	ch := &models.UserChannel{Name: "PJSIP/101", ServerID: srv.ID, PbxUserID: pu.ID, OriginateEnabled: true}
	if err := pbxUsers.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("CreateChannel() error: %v", err)
	}
	channels, err := pbxUsers.ListOriginateChannels(ctx, pu.ID)
	if err != nil {
		t.Fatalf("ListOriginateChannels() error: %v", err)
	}
	if len(channels) != 1 || channels[0].Name != "PJSIP/101" {
		t.Errorf("ListOriginateChannels() = %+v, want one PJSIP/101", channels)
	}
}

func TestPartnerSearchByNumber(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	partners := NewPartnerRepository(db)

	p := &models.Partner{Name: "Acme", Phone: "+1 555-123-4567", Tags: "customer,vip"}
	if err := partners.Create(ctx, p); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Exact match.
	got, err := partners.SearchByNumber(ctx, "+1 555-123-4567")
	if err != nil {
		t.Fatalf("SearchByNumber() error: %v", err)
	}
	if got == nil || got.ID != p.ID {
		t.Fatalf("SearchByNumber(exact) = %+v, want ID %d", got, p.ID)
	}

	// Suffix match with different formatting.
	got, err = partners.SearchByNumber(ctx, "15551234567")
	if err != nil {
		t.Fatalf("SearchByNumber() error: %v", err)
	}
	if got == nil || got.ID != p.ID {
		t.Fatalf("SearchByNumber(suffix) = %+v, want ID %d", got, p.ID)
	}

	// No match.
	got, err = partners.SearchByNumber(ctx, "999888777")
	if err != nil {
		t.Fatalf("SearchByNumber() error: %v", err)
	}
	if got != nil {
		t.Errorf("SearchByNumber(no match) = %+v, want nil", got)
	}
}

func TestCallAndChannelRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := NewUserRepository(db)
	servers := NewServerRepository(db)
	calls := NewCallRepository(db)

	owner := &models.User{Login: "owner", Name: "Owner"}
	if err := users.Create(ctx, owner); err != nil {
		t.Fatalf("Create() user error: %v", err)
	}
	srv := &models.Server{Name: "PBX", UserID: owner.ID}
	if err := servers.Create(ctx, srv); err != nil {
		t.Fatalf("Create() server error: %v", err)
	}

	call := &models.Call{
		UniqueID:      "uid-1",
		ServerID:      srv.ID,
		CallingNumber: "101",
		CalledNumber:  "+15551234567",
		Direction:     "out",
		Status:        models.CallStatusProgress,
		IsActive:      true,
		Started:       time.Now().UTC(),
	}
	if err := calls.Create(ctx, call); err != nil {
		t.Fatalf("Create() call error: %v", err)
	}

	ch := &models.Channel{
		CallID:   call.ID,
		ServerID: srv.ID,
		Channel:  "PJSIP/101",
		UniqueID: "uid-1",
		LinkedID: "uid-2",
		IsActive: true,
	}
	if err := calls.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("CreateChannel() error: %v", err)
	}

	// Duplicate channel unique_id is rejected.
	dup := &models.Channel{CallID: call.ID, ServerID: srv.ID, UniqueID: "uid-1"}
	if err := calls.CreateChannel(ctx, dup); err == nil {
		t.Error("expected unique constraint error for duplicate channel unique_id")
	}

	active, err := calls.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("ListActive() returned %d calls, want 1", len(active))
	}

	call.Status = models.CallStatusAnswered
	call.IsActive = false
	if err := calls.Update(ctx, call); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if err := calls.DeactivateChannels(ctx, call.ID); err != nil {
		t.Fatalf("DeactivateChannels() error: %v", err)
	}

	active, err = calls.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ListActive() returned %d calls after deactivation, want 0", len(active))
	}

	got, err := calls.GetByUniqueID(ctx, "uid-1")
	if err != nil {
		t.Fatalf("GetByUniqueID() error: %v", err)
	}
	if got == nil || !got.IsTerminal() {
		t.Errorf("GetByUniqueID() = %+v, want terminal call", got)
	}
}

func TestRecordingDeleteExpired(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	recs := NewRecordingRepository(db)

	now := time.Now().UTC()
	longAgo := now.AddDate(0, 0, -400)

	expired := &models.Recording{UniqueID: "expired", FilePath: "/rec/expired.mp3",
		KeepForever: models.KeepForeverNo, Answered: &longAgo}
	if err := recs.Create(ctx, expired); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	kept := &models.Recording{UniqueID: "kept", FilePath: "/rec/kept.mp3",
		KeepForever: models.KeepForeverYes, Answered: &longAgo}
	if err := recs.Create(ctx, kept); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	recent := &models.Recording{UniqueID: "recent", FilePath: "/rec/recent.mp3",
		KeepForever: models.KeepForeverNo, Answered: &now}
	if err := recs.Create(ctx, recent); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	unanswered := &models.Recording{UniqueID: "unanswered", FilePath: "/rec/unanswered.mp3",
		KeepForever: models.KeepForeverNo}
	if err := recs.Create(ctx, unanswered); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Row age is irrelevant: expiry follows the answered time only.
	if _, err := db.Exec("UPDATE recordings SET created_at = datetime('now', '-400 days')"); err != nil {
		t.Fatalf("backdating recordings: %v", err)
	}

	paths, err := recs.DeleteExpired(ctx, 365)
	if err != nil {
		t.Fatalf("DeleteExpired() error: %v", err)
	}
	if len(paths) != 1 || paths[0] != "/rec/expired.mp3" {
		t.Errorf("DeleteExpired() paths = %v, want [/rec/expired.mp3]", paths)
	}

	gone, err := recs.GetByID(ctx, expired.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if gone != nil {
		t.Error("expired recording was not deleted")
	}

	for name, id := range map[string]int64{
		"keep_forever":      kept.ID,
		"recently answered": recent.ID,
		"never answered":    unanswered.ID,
	} {
		got, err := recs.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID() error: %v", err)
		}
		if got == nil {
			t.Errorf("%s recording was deleted", name)
		}
	}
}

func TestRecordingTranscriptionToken(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	recs := NewRecordingRepository(db)

	rec := &models.Recording{UniqueID: "r1", TranscriptionToken: "tok-1"}
	if err := recs.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := recs.GetByToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("GetByToken() error: %v", err)
	}
	if got == nil || got.ID != rec.ID {
		t.Fatalf("GetByToken() = %+v, want ID %d", got, rec.ID)
	}

	// Empty token never matches, even if rows hold empty tokens.
	rec.TranscriptionToken = ""
	if err := recs.Update(ctx, rec); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	got, err = recs.GetByToken(ctx, "")
	if err != nil {
		t.Fatalf("GetByToken() error: %v", err)
	}
	if got != nil {
		t.Errorf("GetByToken(empty) = %+v, want nil", got)
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
