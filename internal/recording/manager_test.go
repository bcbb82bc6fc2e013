package recording

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pbxlink/pbxlink/internal/agent"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

type fakeDispatcher struct {
	jobs []agent.JobOptions
	err  error
}

func (d *fakeDispatcher) LocalJob(_ context.Context, opts agent.JobOptions) ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.jobs = append(d.jobs, opts)
	return nil, nil
}

type fakeNotifier struct {
	uids     []int64
	messages []string
}

func (n *fakeNotifier) Notify(uid int64, _ string, message string, _ bool) {
	n.uids = append(n.uids, uid)
	n.messages = append(n.messages, message)
}

type fixture struct {
	db         *database.DB
	recordings database.RecordingRepository
	calls      database.CallRepository
	partners   database.PartnerRepository
	config     database.SystemConfigRepository
	dispatcher *fakeDispatcher
	notifier   *fakeNotifier
	dataDir    string
	manager    *Manager

	call    *models.Call
	channel *models.Channel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dataDir := t.TempDir()
	db, err := database.Open(dataDir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	config, err := database.NewSystemConfigRepository(ctx, db)
	if err != nil {
		t.Fatalf("NewSystemConfigRepository() error: %v", err)
	}

	f := &fixture{
		db:         db,
		recordings: database.NewRecordingRepository(db),
		calls:      database.NewCallRepository(db),
		partners:   database.NewPartnerRepository(db),
		config:     config,
		dispatcher: &fakeDispatcher{},
		notifier:   &fakeNotifier{},
		dataDir:    dataDir,
	}
	f.manager = NewManager(f.recordings, f.calls, f.partners, f.config,
		f.dispatcher, f.notifier, dataDir, slog.Default())

	users := database.NewUserRepository(db)
	servers := database.NewServerRepository(db)
	owner := &models.User{Login: "owner", Name: "Owner"}
	if err := users.Create(ctx, owner); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	srv := &models.Server{Name: "PBX", UserID: owner.ID}
	if err := servers.Create(ctx, srv); err != nil {
		t.Fatalf("creating server: %v", err)
	}

	answered := time.Now().UTC()
	f.call = &models.Call{
		UniqueID: "uid-1", ServerID: srv.ID,
		CallingNumber: "101", CalledNumber: "+15550001111",
		Direction: "out", Status: models.CallStatusAnswered,
		Started: answered, Answered: &answered,
		CallingUserID: &owner.ID,
	}
	if err := f.calls.Create(ctx, f.call); err != nil {
		t.Fatalf("creating call: %v", err)
	}
	f.channel = &models.Channel{
		CallID: f.call.ID, ServerID: srv.ID, UniqueID: "uid-1",
		Cause: models.HangupCauseAnswered, RecordingFilePath: "/monitor/uid-1.wav",
	}
	if err := f.calls.CreateChannel(ctx, f.channel); err != nil {
		t.Fatalf("creating channel: %v", err)
	}
	return f
}

func sysCtx() agent.SystemContext {
	return agent.NewSystemContext(context.Background())
}

func TestSaveCallRecordingGuards(t *testing.T) {
	f := newFixture(t)

	noPath := &models.Channel{ID: 1, Cause: models.HangupCauseAnswered}
	ok, err := f.manager.SaveCallRecording(sysCtx(), noPath)
	if err != nil || ok {
		t.Errorf("SaveCallRecording(no path) = %v, %v; want false, nil", ok, err)
	}

	notAnswered := &models.Channel{ID: 2, Cause: "19", RecordingFilePath: "/monitor/x.wav"}
	ok, err = f.manager.SaveCallRecording(sysCtx(), notAnswered)
	if err != nil || ok {
		t.Errorf("SaveCallRecording(not answered) = %v, %v; want false, nil", ok, err)
	}

	if len(f.dispatcher.jobs) != 0 {
		t.Errorf("dispatched %d jobs, want 0", len(f.dispatcher.jobs))
	}
}

func TestSaveCallRecordingDispatchesFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.config.Set(ctx, database.ConfKeyUseMP3Encoder, "true"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := f.config.Set(ctx, database.ConfKeyMP3Bitrate, "128"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	ok, err := f.manager.SaveCallRecording(sysCtx(), f.channel)
	if err != nil {
		t.Fatalf("SaveCallRecording() error: %v", err)
	}
	if !ok {
		t.Fatal("SaveCallRecording() = false, want true")
	}

	if len(f.dispatcher.jobs) != 1 {
		t.Fatalf("dispatched %d jobs, want 1", len(f.dispatcher.jobs))
	}
	job := f.dispatcher.jobs[0]
	if job.Fun != "recording.get_file" {
		t.Errorf("Fun = %q", job.Fun)
	}
	if job.Args != "/monitor/uid-1.wav" {
		t.Errorf("Args = %v", job.Args)
	}
	if job.Kwargs["file_format"] != "mp3" || job.Kwargs["mp3_bitrate"] != 128 {
		t.Errorf("Kwargs = %v", job.Kwargs)
	}
	if job.ResModel != "recording" || job.ResMethod != "upload_recording" {
		t.Errorf("callback target = %s.%s", job.ResModel, job.ResMethod)
	}
	if job.RaiseExc {
		t.Error("recording fetch should fail silently")
	}
}

func TestHandleUploadRecordingErrorPayload(t *testing.T) {
	f := newFixture(t)

	err := f.manager.HandleUploadRecording(sysCtx(),
		json.RawMessage(`{"error":"file not found"}`),
		map[string]any{"channel_id": float64(f.channel.ID)})
	if err != nil {
		t.Fatalf("HandleUploadRecording() error: %v", err)
	}

	recs, _, err := f.recordings.List(context.Background(), database.RecordingListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("error payload created %d recordings, want 0", len(recs))
	}
}

func TestHandleUploadRecordingInline(t *testing.T) {
	f := newFixture(t)

	audio := []byte("RIFF-fake-audio")
	payload, _ := json.Marshal(map[string]any{
		"file_name": "uid-1.mp3",
		"file_data": base64.StdEncoding.EncodeToString(audio),
	})

	err := f.manager.HandleUploadRecording(sysCtx(), payload,
		map[string]any{"channel_id": float64(f.channel.ID)})
	if err != nil {
		t.Fatalf("HandleUploadRecording() error: %v", err)
	}

	recs, _, err := f.recordings.List(context.Background(), database.RecordingListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("created %d recordings, want 1", len(recs))
	}

	rec := recs[0]
	if string(rec.RecordingData) != string(audio) {
		t.Errorf("RecordingData = %q", rec.RecordingData)
	}
	if rec.FilePath != "" {
		t.Errorf("FilePath = %q, want empty for inline storage", rec.FilePath)
	}
	if rec.CallingNumber != "101" || rec.CalledNumber != "+15550001111" {
		t.Errorf("denormalized numbers = %q / %q", rec.CallingNumber, rec.CalledNumber)
	}
	if rec.CallID == nil || *rec.CallID != f.call.ID {
		t.Errorf("CallID = %v", rec.CallID)
	}
	if rec.Answered == nil {
		t.Error("Answered not denormalized")
	}
}

func TestHandleUploadRecordingDuplicate(t *testing.T) {
	f := newFixture(t)

	payload, _ := json.Marshal(map[string]any{
		"file_name": "uid-1.mp3",
		"file_data": base64.StdEncoding.EncodeToString([]byte("RIFF-fake-audio")),
	})
	passBack := map[string]any{"channel_id": float64(f.channel.ID)}

	if err := f.manager.HandleUploadRecording(sysCtx(), payload, passBack); err != nil {
		t.Fatalf("HandleUploadRecording() error: %v", err)
	}
	// The agent may redeliver the same upload after a webhook retry.
	if err := f.manager.HandleUploadRecording(sysCtx(), payload, passBack); err != nil {
		t.Fatalf("HandleUploadRecording(redelivery) error: %v", err)
	}

	recs, _, err := f.recordings.List(context.Background(), database.RecordingListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("redelivered upload created %d recordings, want 1", len(recs))
	}
}

func TestHandleUploadRecordingFilestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.config.Set(ctx, database.ConfKeyRecordingStorage, "filestore"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	audio := []byte("RIFF-file-audio")
	payload, _ := json.Marshal(map[string]any{
		"file_name": "uid-1.mp3",
		"file_data": base64.StdEncoding.EncodeToString(audio),
	})

	err := f.manager.HandleUploadRecording(sysCtx(), payload,
		map[string]any{"channel_id": float64(f.channel.ID)})
	if err != nil {
		t.Fatalf("HandleUploadRecording() error: %v", err)
	}

	recs, _, _ := f.recordings.List(ctx, database.RecordingListFilter{Limit: 10})
	if len(recs) != 1 {
		t.Fatalf("created %d recordings, want 1", len(recs))
	}
	rec := recs[0]
	if len(rec.RecordingData) != 0 {
		t.Error("filestore mode stored audio inline")
	}
	wantPath := filepath.Join(f.dataDir, "recordings", "uid-1.mp3")
	if rec.FilePath != wantPath {
		t.Errorf("FilePath = %q, want %q", rec.FilePath, wantPath)
	}
	data, err := os.ReadFile(rec.FilePath)
	if err != nil || string(data) != string(audio) {
		t.Errorf("audio file = %q, %v", data, err)
	}

	// Audio() reads from disk in filestore mode.
	got, err := f.manager.Audio(&rec)
	if err != nil || string(got) != string(audio) {
		t.Errorf("Audio() = %q, %v", got, err)
	}
}

func TestRequestTranscriptTokenPersistedBeforePost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := &models.Recording{UniqueID: "uid-1", RecordingData: []byte("audio"), RecordingFilename: "uid-1.mp3"}
	if err := f.recordings.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	var posted transcriptionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&posted); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		// The token must already be durable when the request arrives.
		stored, err := f.recordings.GetByToken(context.Background(), posted.TranscriptionToken)
		if err != nil || stored == nil || stored.ID != rec.ID {
			t.Errorf("token not persisted before POST: %v %v", stored, err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := f.config.Set(ctx, database.ConfKeyTranscriptionURL, srv.URL); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := f.config.Set(ctx, database.ConfKeyBaseURL, "https://crm.example.com"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	if err := f.manager.RequestTranscript(ctx, rec, false); err != nil {
		t.Fatalf("RequestTranscript() error: %v", err)
	}

	if posted.TranscriptionToken == "" {
		t.Fatal("no token posted")
	}
	if posted.CallbackURL == "" || posted.Content == "" {
		t.Errorf("request incomplete: %+v", posted)
	}
}

func TestRequestTranscriptRemoteFailureStoresError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := &models.Recording{UniqueID: "uid-1", RecordingData: []byte("audio")}
	if err := f.recordings.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	if err := f.config.Set(ctx, database.ConfKeyTranscriptionURL, srv.URL); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	err := f.manager.RequestTranscript(ctx, rec, false)
	if err == nil {
		t.Fatal("expected error from failed transcription request")
	}

	stored, _ := f.recordings.GetByID(ctx, rec.ID)
	if stored.TranscriptionError == "" {
		t.Error("transcription error not stored")
	}

	// Silent mode swallows the same failure.
	if err := f.manager.RequestTranscript(ctx, rec, true); err != nil {
		t.Errorf("silent RequestTranscript() error: %v", err)
	}
}

func TestUpdateTranscript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	partner := &models.Partner{Name: "Acme"}
	if err := f.partners.Create(ctx, partner); err != nil {
		t.Fatalf("creating partner: %v", err)
	}
	if err := f.config.Set(ctx, database.ConfKeySummaryPostToPartner, "true"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	rec := &models.Recording{
		UniqueID: "uid-1", CallingNumber: "101", CalledNumber: "+15550001111",
		PartnerID: &partner.ID, TranscriptionToken: "tok-1",
	}
	if err := f.recordings.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	data := TranscriptData{
		Transcript: "hello world",
		Summary:    "Short call.",
		Price:      0.1234,
		NotifyUID:  7,
	}
	if err := f.manager.UpdateTranscript(ctx, rec, data); err != nil {
		t.Fatalf("UpdateTranscript() error: %v", err)
	}

	stored, _ := f.recordings.GetByID(ctx, rec.ID)
	if stored.Transcript != "hello world" || stored.Summary != "Short call." {
		t.Errorf("stored transcript/summary = %q / %q", stored.Transcript, stored.Summary)
	}
	if stored.TranscriptionPrice != "0.12" {
		t.Errorf("price = %q, want 0.12", stored.TranscriptionPrice)
	}
	if stored.TranscriptionToken != "" {
		t.Error("token not consumed")
	}

	if len(f.notifier.uids) != 1 || f.notifier.uids[0] != 7 {
		t.Errorf("notified uids = %v, want [7]", f.notifier.uids)
	}

	msgs, err := f.partners.ListMessages(ctx, partner.ID)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "Short call." {
		t.Errorf("partner messages = %v", msgs)
	}
}
