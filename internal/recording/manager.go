package recording

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pbxlink/pbxlink/internal/agent"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/database/models"
)

// JobDispatcher is the slice of the agent dispatcher the recording layer
// needs.
type JobDispatcher interface {
	LocalJob(ctx context.Context, opts agent.JobOptions) ([]byte, error)
}

// Notifier delivers a realtime notification to a user's connected clients.
type Notifier interface {
	Notify(uid int64, title, message string, warning bool)
}

// Manager drives the recording lifecycle: fetching audio from the agent
// after answered calls, storing it, and the transcription round-trip.
type Manager struct {
	recordings database.RecordingRepository
	calls      database.CallRepository
	partners   database.PartnerRepository
	config     database.SystemConfigRepository
	dispatcher JobDispatcher
	notifier   Notifier
	transcribe *transcriptionClient
	dataDir    string
	logger     *slog.Logger
}

// NewManager creates a recording manager. Attachment-mode audio files are
// stored under dataDir/recordings.
func NewManager(
	recordings database.RecordingRepository,
	calls database.CallRepository,
	partners database.PartnerRepository,
	config database.SystemConfigRepository,
	dispatcher JobDispatcher,
	notifier Notifier,
	dataDir string,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		recordings: recordings,
		calls:      calls,
		partners:   partners,
		config:     config,
		dispatcher: dispatcher,
		notifier:   notifier,
		transcribe: newTranscriptionClient(config),
		dataDir:    dataDir,
		logger:     logger.With("subsystem", "recording"),
	}
}

// Register binds the manager's callback targets into the registry.
func (m *Manager) Register(reg *agent.CallbackRegistry) {
	reg.Register("recording", "upload_recording", m.HandleUploadRecording)
}

// SaveCallRecording requests the recorded audio of a finished channel from
// the agent. Channels without a recording path or not answered (cause 16)
// are skipped; the skip is not an error. Returns whether a fetch was
// dispatched.
func (m *Manager) SaveCallRecording(ctx agent.SystemContext, ch *models.Channel) (bool, error) {
	if ch.RecordingFilePath == "" {
		m.logger.Debug("channel has no recording path", "channel_id", ch.ID)
		return false, nil
	}
	if ch.Cause != models.HangupCauseAnswered {
		m.logger.Debug("channel not answered, skipping recording",
			"channel_id", ch.ID, "cause", ch.Cause)
		return false, nil
	}

	kwargs := map[string]any{}
	useMP3, err := m.config.GetBool(ctx, database.ConfKeyUseMP3Encoder)
	if err != nil {
		return false, err
	}
	if useMP3 {
		bitrate, _ := m.config.GetInt(ctx, database.ConfKeyMP3Bitrate, 96)
		quality, _ := m.config.GetInt(ctx, database.ConfKeyMP3Quality, 4)
		kwargs["file_format"] = "mp3"
		kwargs["mp3_bitrate"] = bitrate
		kwargs["mp3_quality"] = quality
	}

	_, err = m.dispatcher.LocalJob(ctx, agent.JobOptions{
		Fun:       "recording.get_file",
		Args:      ch.RecordingFilePath,
		Kwargs:    kwargs,
		ResModel:  "recording",
		ResMethod: "upload_recording",
		PassBack:  map[string]any{"channel_id": ch.ID},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// uploadPayload is the agent's reply to recording.get_file.
type uploadPayload struct {
	Error    string `json:"error"`
	FileName string `json:"file_name"`
	FileData string `json:"file_data"` // base64 audio
}

// HandleUploadRecording receives the fetched audio and creates the
// Recording, denormalizing the call's parties and numbers so the recording
// survives call deletion. Audio is stored inline or as a file per the
// storage setting, never both.
func (m *Manager) HandleUploadRecording(ctx agent.SystemContext, result json.RawMessage, passBack map[string]any) error {
	var payload uploadPayload
	if err := json.Unmarshal(result, &payload); err != nil {
		return fmt.Errorf("decoding upload payload: %w", err)
	}
	if payload.Error != "" {
		m.logger.Error("agent could not fetch recording", "error", payload.Error)
		return nil
	}

	channelID := passBackInt(passBack, "channel_id")
	if channelID == 0 {
		return fmt.Errorf("upload without channel_id")
	}

	ch, err := m.calls.GetChannelByID(ctx, channelID)
	if err != nil {
		return err
	}
	if ch == nil {
		m.logger.Warn("upload for unknown channel", "channel_id", channelID)
		return nil
	}

	// Redelivered uploads must not duplicate the recording.
	existing, err := m.recordings.GetByUniqueID(ctx, ch.UniqueID)
	if err != nil {
		return err
	}
	if existing != nil {
		m.logger.Info("recording already stored, ignoring duplicate upload",
			"channel_id", channelID, "recording_id", existing.ID)
		return nil
	}

	call, err := m.calls.GetByID(ctx, ch.CallID)
	if err != nil {
		return err
	}
	if call == nil {
		m.logger.Warn("upload for channel without call", "channel_id", channelID)
		return nil
	}

	audio, err := base64.StdEncoding.DecodeString(payload.FileData)
	if err != nil {
		return fmt.Errorf("decoding recording audio: %w", err)
	}

	rec := &models.Recording{
		UniqueID:          ch.UniqueID,
		CallID:            &call.ID,
		ChannelID:         &ch.ID,
		PartnerID:         call.PartnerID,
		CallingUserID:     call.CallingUserID,
		AnsweredUserID:    call.AnsweredUserID,
		CallingNumber:     call.CallingNumber,
		CalledNumber:      call.CalledNumber,
		Answered:          call.Answered,
		RecordingFilename: payload.FileName,
		KeepForever:       models.KeepForeverNo,
	}

	storage, err := m.config.Get(ctx, database.ConfKeyRecordingStorage)
	if err != nil {
		return err
	}
	if storage == "filestore" {
		path, err := m.writeAudioFile(ch.UniqueID, payload.FileName, audio)
		if err != nil {
			return err
		}
		rec.FilePath = path
	} else {
		rec.RecordingData = audio
	}

	if err := m.recordings.Create(ctx, rec); err != nil {
		return err
	}

	m.logger.Info("recording stored",
		"recording_id", rec.ID, "call_id", call.ID, "bytes", len(audio), "storage", storage)

	transcribe, err := m.config.GetBool(ctx, database.ConfKeyTranscriptionEnabled)
	if err != nil {
		return err
	}
	if transcribe {
		if err := m.RequestTranscript(ctx, rec, true); err != nil {
			m.logger.Error("transcript request failed", "recording_id", rec.ID, "error", err)
		}
	}
	return nil
}

// Audio returns the recording's audio bytes from whichever storage mode
// holds them.
func (m *Manager) Audio(rec *models.Recording) ([]byte, error) {
	if len(rec.RecordingData) > 0 {
		return rec.RecordingData, nil
	}
	if rec.FilePath == "" {
		return nil, fmt.Errorf("recording %d has no audio", rec.ID)
	}
	data, err := os.ReadFile(rec.FilePath)
	if err != nil {
		return nil, fmt.Errorf("reading recording file: %w", err)
	}
	return data, nil
}

// DeleteAudioFile removes a file-stored recording's audio from disk.
// Missing files are not an error.
func (m *Manager) DeleteAudioFile(rec *models.Recording) {
	if rec.FilePath == "" {
		return
	}
	if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove recording file", "path", rec.FilePath, "error", err)
	}
}

func (m *Manager) writeAudioFile(uniqueID, fileName string, audio []byte) (string, error) {
	dir := filepath.Join(m.dataDir, "recordings")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating recordings directory: %w", err)
	}

	ext := filepath.Ext(fileName)
	if ext == "" {
		ext = ".wav"
	}
	path := filepath.Join(dir, uniqueID+ext)
	if err := os.WriteFile(path, audio, 0640); err != nil {
		return "", fmt.Errorf("writing recording file: %w", err)
	}
	return path, nil
}

// passBackInt reads an integer out of a decoded pass_back map. JSON numbers
// decode as float64.
func passBackInt(passBack map[string]any, key string) int64 {
	switch v := passBack[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
