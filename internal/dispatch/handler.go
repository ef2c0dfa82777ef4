// Package dispatch is the entry point for user actions in a console session:
// free text, option clicks, company selection and new sessions.
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/eternisai/salesintel/internal/apiclient"
	"github.com/eternisai/salesintel/internal/chat"
	"github.com/eternisai/salesintel/internal/config"
	apperrors "github.com/eternisai/salesintel/internal/errors"
	"github.com/eternisai/salesintel/internal/logger"
	"github.com/eternisai/salesintel/internal/pacing"
	"github.com/eternisai/salesintel/internal/progress"
	"github.com/eternisai/salesintel/internal/research"
)

const helpMessage = "I can research companies for you. Try \"Research Acme Corp\", " +
	"or pick a company from the search to get an overview, key contacts, " +
	"tech stack, competitive positioning, recent news and business challenges."

const searchPrompt = "Which company would you like to research next?"

// Company is a company picked from search or history.
type Company struct {
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
}

// Researcher starts and stops research runs.
type Researcher interface {
	StartResearch(ctx context.Context, messageID, areaID, companyName, companyDomain string) (*research.Run, error)
	StopAll()
}

// State is the console session state the handler reads and changes.
type State interface {
	SelectCompany(name, domain string)
	ClearCompany()
	ResearchHistory() []apiclient.HistoryEntry
	OpenCompanySearch()
}

// Transcripts loads stored conversations.
type Transcripts interface {
	GetCompanyTranscript(ctx context.Context, companyID string) (*apiclient.Transcript, error)
}

// ExportFunc produces a report of the session in the given format.
type ExportFunc func(ctx context.Context, format string) error

type Deps struct {
	Research    Researcher
	State       State
	Transcripts Transcripts
	Timeline    *chat.Timeline
	Ledger      *chat.Ledger
	Progress    *progress.Manager
	Mapper      *progress.Mapper
	Pacer       pacing.Pacer
	Export      ExportFunc
	Logger      *logger.Logger
}

// Handler turns user actions into timeline changes and research runs.
// Callers serialize calls; a handler method runs to completion before the
// next input is handled.
type Handler struct {
	deps Deps
	log  *logger.Logger
}

func NewHandler(deps Deps) *Handler {
	if deps.Pacer == nil {
		deps.Pacer = &pacing.Instant{}
	}
	return &Handler{deps: deps, log: deps.Logger.WithComponent("dispatch")}
}

// HandleSendMessage handles free text typed by the user.
func (h *Handler) HandleSendMessage(ctx context.Context, text string) error {
	const op = "dispatch.send_message"

	text = strings.TrimSpace(text)
	if text == "" {
		return apperrors.New(apperrors.KindInvalidInput, op, "message is empty")
	}

	h.deps.Timeline.Append(chat.NewUserMessage(text))
	h.deps.Timeline.SetTyping(true)

	if err := h.deps.Pacer.Pause(ctx, pacing.BeatThinking); err != nil {
		h.deps.Timeline.SetTyping(false)
		return apperrors.Wrap(apperrors.KindInternal, op, err)
	}

	if !IsResearchQuery(text) {
		h.help()
		return nil
	}

	company := ExtractCompanyName(text)
	h.log.Info("research query received", slog.String("company", company))
	h.deps.State.SelectCompany(company, "")
	return h.start(ctx, config.OverviewAreaID, company, "")
}

// HandleOptionClick handles a click on a message option.
func (h *Handler) HandleOptionClick(ctx context.Context, optionID, optionText, format string) error {
	const op = "dispatch.option_click"

	if optionID == research.OptionExportReport {
		if h.deps.Export == nil {
			return apperrors.New(apperrors.KindInternal, op, "export is not available")
		}
		return h.deps.Export(ctx, format)
	}

	echo := strings.TrimSpace(optionText)
	if echo == "" {
		echo = optionID
		if area, ok := h.deps.Mapper.Area(optionID); ok {
			echo = area.Title
		}
	}
	h.deps.Timeline.Append(chat.NewUserMessage(echo))

	switch {
	case h.deps.Mapper.IsArea(optionID):
		return h.start(ctx, optionID, "", "")

	case optionID == research.OptionResearchAnother:
		h.StartNewSession()
		h.deps.State.OpenCompanySearch()
		h.deps.Timeline.Append(chat.NewAssistantMessage(searchPrompt))
		return nil

	default:
		h.log.Debug("unknown option", slog.String("option_id", optionID))
		h.help()
		return nil
	}
}

// HandleCompanySelect starts over with a company. If the company has stored
// research the transcript is replayed; otherwise, or when loading it fails,
// a new overview research starts.
func (h *Handler) HandleCompanySelect(ctx context.Context, company Company) error {
	const op = "dispatch.company_select"

	name := strings.TrimSpace(company.Name)
	if name == "" {
		return apperrors.New(apperrors.KindInvalidInput, op, "company name is empty")
	}
	domain := strings.TrimSpace(company.Domain)

	h.reset()
	h.deps.State.SelectCompany(name, domain)

	entry, ok := h.findHistory(name)
	if !ok {
		return h.CreateNewResearchSession(ctx, name)
	}

	h.deps.Timeline.Append(chat.NewUserMessage("Research " + name))

	err := h.loadHistory(ctx, entry)
	if err == nil {
		return nil
	}
	h.log.LogError(ctx, err, "failed to load research history, starting a new session",
		slog.String("company", name))

	if err := h.deps.Pacer.Pause(ctx, pacing.BeatKickoff); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, op, err)
	}
	return h.start(ctx, config.OverviewAreaID, name, domain)
}

// CreateNewResearchSession echoes "Research {company}" and starts the
// company overview.
func (h *Handler) CreateNewResearchSession(ctx context.Context, companyName string) error {
	const op = "dispatch.new_research_session"

	if err := h.deps.Pacer.Pause(ctx, pacing.BeatEcho); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, op, err)
	}
	h.deps.Timeline.Append(chat.NewUserMessage("Research " + companyName))

	if err := h.deps.Pacer.Pause(ctx, pacing.BeatKickoff); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, op, err)
	}
	return h.start(ctx, config.OverviewAreaID, companyName, "")
}

// StartNewSession clears messages, completed research and the company.
func (h *Handler) StartNewSession() {
	h.reset()
	h.deps.State.ClearCompany()
}

func (h *Handler) reset() {
	h.deps.Research.StopAll()
	h.deps.Timeline.Reset()
	h.deps.Timeline.SetTyping(false)
	h.deps.Ledger.Reset()
}

func (h *Handler) start(ctx context.Context, areaID, company, domain string) error {
	_, err := h.deps.Research.StartResearch(ctx, chat.NewID(), areaID, company, domain)
	if err == nil {
		return nil
	}

	h.deps.Timeline.SetTyping(false)
	switch apperrors.KindOf(err) {
	case apperrors.KindPrecondition:
		h.log.Warn("research not started", slog.String("area_id", areaID), slog.String("error", err.Error()))
		h.deps.Timeline.Append(chat.NewErrorMessage(
			"Select a company and complete your profile before starting research."))
	default:
		h.log.LogError(ctx, err, "failed to start research", slog.String("area_id", areaID))
		retry := chat.NewErrorMessage("I couldn't start the research right now. Please try again.")
		retry.Options = []chat.Option{{ID: areaID, Text: "Try again", Icon: "refresh-cw", Category: "retry"}}
		h.deps.Timeline.Append(retry)
	}
	return err
}

func (h *Handler) help() {
	h.deps.Timeline.Append(chat.NewAssistantMessage(helpMessage))
	h.deps.Timeline.SetTyping(false)
}

// findHistory matches company names ignoring case and surrounding space.
func (h *Handler) findHistory(name string) (apiclient.HistoryEntry, bool) {
	for _, e := range h.deps.State.ResearchHistory() {
		if strings.EqualFold(strings.TrimSpace(e.CompanyName), name) {
			return e, true
		}
	}
	return apiclient.HistoryEntry{}, false
}

func (h *Handler) loadHistory(ctx context.Context, entry apiclient.HistoryEntry) error {
	const op = "dispatch.load_history"

	loadingID, err := h.deps.Progress.StartHistoryLoading(ctx, entry.CompanyName)
	if err != nil {
		h.deps.Timeline.Remove(loadingID)
		return apperrors.Wrap(apperrors.KindHistoryLoad, op, err)
	}

	companyID := entry.CompanyID
	if companyID == "" {
		companyID = entry.CompanyName
	}
	transcript, err := h.deps.Transcripts.GetCompanyTranscript(ctx, companyID)
	if err != nil {
		h.deps.Timeline.Remove(loadingID)
		return apperrors.Wrap(apperrors.KindHistoryLoad, op, err)
	}

	messages := chat.FormatBackendMessages(transcript.Messages)
	h.deps.Timeline.Replace(messages)
	h.deps.Ledger.Replace(transcript.CompletedResearch)

	domain := transcript.CompanyDomain
	if domain == "" {
		domain = entry.CompanyDomain
	}
	h.deps.State.SelectCompany(entry.CompanyName, domain)

	h.log.Info("research history loaded",
		slog.String("company", entry.CompanyName),
		slog.Int("messages", len(messages)),
		slog.Int("completed_research", len(transcript.CompletedResearch)))
	return nil
}
