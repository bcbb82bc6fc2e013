package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pbxlink/pbxlink/internal/call"
	"github.com/pbxlink/pbxlink/internal/database"
)

// settingsResponse is the shape returned by GET /settings.
type settingsResponse struct {
	Subscription  subscriptionSettingsResponse  `json:"subscription"`
	Originate     originateSettingsResponse     `json:"originate"`
	Recordings    recordingsSettingsResponse    `json:"recordings"`
	Transcription transcriptionSettingsResponse `json:"transcription"`
	API           apiSettingsResponse           `json:"api"`
}

type subscriptionSettingsResponse struct {
	IsSubscribed bool   `json:"is_subscribed"`
	IsRegistered bool   `json:"is_registered"`
	BaseURL      string `json:"base_url"`
	InstanceUID  string `json:"instance_uid"`
	HasAPIKey    bool   `json:"has_api_key"`
}

type originateSettingsResponse struct {
	Timeout string `json:"timeout"`
}

type recordingsSettingsResponse struct {
	Storage       string `json:"storage"` // "db" | "filestore"
	KeepDays      string `json:"keep_days"`
	UseMP3Encoder bool   `json:"use_mp3_encoder"`
	MP3Bitrate    string `json:"mp3_bitrate"`
	MP3Quality    string `json:"mp3_quality"`
}

type transcriptionSettingsResponse struct {
	Enabled              bool   `json:"enabled"`
	URL                  string `json:"url"`
	SummaryPrompt        string `json:"summary_prompt"`
	PostSummaryToPartner bool   `json:"post_summary_to_partner"`
}

type apiSettingsResponse struct {
	IPAllowlist string `json:"ip_allowlist"`
}

// settingsRequest is the shape accepted by PUT /settings.
type settingsRequest struct {
	Subscription  *subscriptionSettingsRequest  `json:"subscription"`
	Originate     *originateSettingsRequest     `json:"originate"`
	Recordings    *recordingsSettingsRequest    `json:"recordings"`
	Transcription *transcriptionSettingsRequest `json:"transcription"`
	API           *apiSettingsRequest           `json:"api"`
}

type subscriptionSettingsRequest struct {
	BaseURL string `json:"base_url"`
}

type originateSettingsRequest struct {
	Timeout string `json:"timeout"`
}

type recordingsSettingsRequest struct {
	Storage       string `json:"storage"`
	KeepDays      string `json:"keep_days"`
	UseMP3Encoder bool   `json:"use_mp3_encoder"`
	MP3Bitrate    string `json:"mp3_bitrate"`
	MP3Quality    string `json:"mp3_quality"`
}

type transcriptionSettingsRequest struct {
	Enabled              bool   `json:"enabled"`
	URL                  string `json:"url"`
	SummaryPrompt        string `json:"summary_prompt"`
	PostSummaryToPartner bool   `json:"post_summary_to_partner"`
}

type apiSettingsRequest struct {
	IPAllowlist string `json:"ip_allowlist"`
}

// handleGetSettings returns all system settings grouped by section. The
// API key is never revealed, only its presence.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	get := func(key string) string {
		val, _ := s.sysConfig.Get(ctx, key)
		return val
	}
	getBool := func(key string) bool {
		val, _ := s.sysConfig.GetBool(ctx, key)
		return val
	}

	resp := settingsResponse{
		Subscription: subscriptionSettingsResponse{
			IsSubscribed: getBool(database.ConfKeyIsSubscribed),
			IsRegistered: getBool(database.ConfKeyIsRegistered),
			BaseURL:      get(database.ConfKeyBaseURL),
			InstanceUID:  get(database.ConfKeyInstanceUID),
			HasAPIKey:    get(database.ConfKeyAPIKey) != "",
		},
		Originate: originateSettingsResponse{
			Timeout: get(call.ConfKeyOriginateTimeout),
		},
		Recordings: recordingsSettingsResponse{
			Storage:       get(database.ConfKeyRecordingStorage),
			KeepDays:      get(database.ConfKeyRecordingsKeepDays),
			UseMP3Encoder: getBool(database.ConfKeyUseMP3Encoder),
			MP3Bitrate:    get(database.ConfKeyMP3Bitrate),
			MP3Quality:    get(database.ConfKeyMP3Quality),
		},
		Transcription: transcriptionSettingsResponse{
			Enabled:              getBool(database.ConfKeyTranscriptionEnabled),
			URL:                  get(database.ConfKeyTranscriptionURL),
			SummaryPrompt:        get(database.ConfKeySummaryPrompt),
			PostSummaryToPartner: getBool(database.ConfKeySummaryPostToPartner),
		},
		API: apiSettingsResponse{
			IPAllowlist: get(database.ConfKeyIPAllowlist),
		},
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleUpdateSettings saves system settings. Only provided sections are
// updated.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	ctx := r.Context()

	save := func(pairs map[string]string) bool {
		for key, value := range pairs {
			if err := s.sysConfig.Set(ctx, key, value); err != nil {
				s.logger.Error("saving settings failed", "key", key, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to save settings")
				return false
			}
		}
		return true
	}

	// Subscription settings. Registration and subscription flags are
	// managed by the registration flow, not this endpoint.
	if req.Subscription != nil {
		if errMsg := validateStringLen("base_url", req.Subscription.BaseURL, maxURLLen); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
		if !save(map[string]string{database.ConfKeyBaseURL: req.Subscription.BaseURL}) {
			return
		}
	}

	// Originate settings.
	if req.Originate != nil {
		timeout := strings.TrimSpace(req.Originate.Timeout)
		if timeout != "" {
			secs, err := strconv.Atoi(timeout)
			if err != nil || secs < 1 || secs > 600 {
				writeError(w, http.StatusBadRequest, "originate timeout must be between 1 and 600 seconds")
				return
			}
		}
		if !save(map[string]string{call.ConfKeyOriginateTimeout: timeout}) {
			return
		}
	}

	// Recording settings.
	if req.Recordings != nil {
		rec := req.Recordings

		if rec.Storage != "" && rec.Storage != "db" && rec.Storage != "filestore" {
			writeError(w, http.StatusBadRequest, "recordings storage must be db or filestore")
			return
		}
		if rec.KeepDays != "" {
			days, err := strconv.Atoi(rec.KeepDays)
			if err != nil || days < 0 {
				writeError(w, http.StatusBadRequest, "recordings keep_days must be a non-negative integer")
				return
			}
		}
		if rec.MP3Bitrate != "" {
			bitrate, err := strconv.Atoi(rec.MP3Bitrate)
			if err != nil {
				writeError(w, http.StatusBadRequest, "recordings mp3_bitrate must be an integer")
				return
			}
			if errMsg := validateIntRange("recordings mp3_bitrate", bitrate, 8, 320); errMsg != "" {
				writeError(w, http.StatusBadRequest, errMsg)
				return
			}
		}
		if rec.MP3Quality != "" {
			quality, err := strconv.Atoi(rec.MP3Quality)
			if err != nil {
				writeError(w, http.StatusBadRequest, "recordings mp3_quality must be an integer")
				return
			}
			if errMsg := validateIntRange("recordings mp3_quality", quality, 0, 9); errMsg != "" {
				writeError(w, http.StatusBadRequest, errMsg)
				return
			}
		}

		if !save(map[string]string{
			database.ConfKeyRecordingStorage:   rec.Storage,
			database.ConfKeyRecordingsKeepDays: rec.KeepDays,
			database.ConfKeyUseMP3Encoder:      strconv.FormatBool(rec.UseMP3Encoder),
			database.ConfKeyMP3Bitrate:         rec.MP3Bitrate,
			database.ConfKeyMP3Quality:         rec.MP3Quality,
		}) {
			return
		}
	}

	// Transcription settings.
	if req.Transcription != nil {
		t := req.Transcription
		if errMsg := validateStringLen("transcription url", t.URL, maxURLLen); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
		if t.Enabled && strings.TrimSpace(t.URL) == "" {
			writeError(w, http.StatusBadRequest, "transcription url is required when transcription is enabled")
			return
		}

		if !save(map[string]string{
			database.ConfKeyTranscriptionEnabled: strconv.FormatBool(t.Enabled),
			database.ConfKeyTranscriptionURL:     strings.TrimSpace(t.URL),
			database.ConfKeySummaryPrompt:        t.SummaryPrompt,
			database.ConfKeySummaryPostToPartner: strconv.FormatBool(t.PostSummaryToPartner),
		}) {
			return
		}
	}

	// API settings.
	if req.API != nil {
		if errMsg := validateIPList("ip_allowlist", req.API.IPAllowlist); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
		if !save(map[string]string{database.ConfKeyIPAllowlist: req.API.IPAllowlist}) {
			return
		}
	}

	s.logger.Info("system settings updated")

	s.handleGetSettings(w, r)
}
