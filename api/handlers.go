package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/jmossahebi/jello2/domain"
	"github.com/jmossahebi/jello2/syncer"
)

const (
	maxBodySize   = 64 << 10
	maxImportSize = 16 << 20

	headerIdempotencyKey = "Idempotency-Key"
	localUserID          = "local"
)

// Boards is the mutation API the routes drive.
type Boards interface {
	Start(ctx context.Context, mode syncer.Mode, userID string) error
	Stop()
	Session() (syncer.Mode, string, syncer.Status)
	State() domain.State

	CreateBoard(name string) (domain.Board, error)
	RenameBoard(boardID, name string) error
	DeleteBoard(boardID string) error
	SetActiveBoard(boardID string) error
	CreateList(boardID, title string) (domain.List, error)
	RenameList(boardID, listID, title string) error
	DeleteList(boardID, listID string) error
	CreateCard(boardID, listID string, in domain.CardInput) (domain.Card, error)
	EditCard(boardID, cardID string, in domain.CardInput) (domain.Card, error)
	DeleteCard(boardID, cardID string) error
	MoveCard(boardID, cardID, toListID string, index int) error

	Export() ([]byte, string, error)
	Import(data []byte, mode domain.ImportMode) (int, error)
	AddTranscriptCards(text string) ([]domain.Card, error)
	BoardTags(boardID string) ([]string, error)
	FilteredBoard(boardID string, tags []string) (domain.Board, error)
}

// Authenticator resolves the account of a request.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Clearer wipes the locally stored snapshot.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Deps are the collaborators of the HTTP surface. Deduper and Local may be
// nil.
type Deps struct {
	Boards  Boards
	Auth    Authenticator
	Broker  *Broker
	Deduper Deduper
	Local   Clearer
	Logger  *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Broker == nil {
		d.Broker = NewBroker()
	}
	e.Use(GzipRequestMiddleware())

	e.GET("/healthz", healthz(d.Boards))

	e.POST("/api/session", startSession(d.Boards, d.Auth, d.Logger))
	e.DELETE("/api/session", stopSession(d.Boards, d.Local))
	e.GET("/api/session", getSession(d.Boards))

	e.GET("/api/state", getState(d.Boards))
	e.GET("/api/stream", streamState(d.Boards, d.Broker))

	e.POST("/api/boards", createBoard(d.Boards))
	e.GET("/api/boards/:board", getBoard(d.Boards))
	e.PATCH("/api/boards/:board", renameBoard(d.Boards))
	e.DELETE("/api/boards/:board", deleteBoard(d.Boards))
	e.PUT("/api/active-board", setActiveBoard(d.Boards))
	e.GET("/api/boards/:board/tags", boardTags(d.Boards))

	e.POST("/api/boards/:board/lists", createList(d.Boards))
	e.PATCH("/api/boards/:board/lists/:list", renameList(d.Boards))
	e.DELETE("/api/boards/:board/lists/:list", deleteList(d.Boards))

	e.POST("/api/boards/:board/lists/:list/cards", createCard(d.Boards))
	e.PATCH("/api/boards/:board/cards/:card", editCard(d.Boards))
	e.DELETE("/api/boards/:board/cards/:card", deleteCard(d.Boards))
	e.POST("/api/boards/:board/cards/:card/move", moveCard(d.Boards))

	e.GET("/api/export", exportBoards(d.Boards))
	e.POST("/api/import", importBoards(d.Boards, d.Deduper, d.Logger))
	e.POST("/api/transcript", addTranscript(d.Boards, d.Deduper, d.Logger))
}

// errorStatus maps mutation and session errors to HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrMalformed),
		errors.Is(err, syncer.ErrRemoteDisabled):
		return http.StatusBadRequest
	case errors.Is(err, syncer.ErrNoSession), errors.Is(err, syncer.ErrSessionFailed),
		errors.Is(err, syncer.ErrSessionLoading), errors.Is(err, syncer.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, syncer.ErrLoadFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c echo.Context, err error) error {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.String(status, err.Error())
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	return nil
}

func healthz(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, _, status := boards.Session()
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "session": status.String()})
	}
}

type sessionRequest struct {
	Mode string `json:"mode"`
}

type sessionResponse struct {
	Mode   string `json:"mode"`
	UserID string `json:"userId,omitempty"`
	Status string `json:"status"`
}

func sessionInfo(boards Boards) sessionResponse {
	mode, userID, status := boards.Session()
	resp := sessionResponse{Status: status.String()}
	if status != syncer.StatusDisconnected {
		resp.Mode = mode.String()
		resp.UserID = userID
	}
	return resp
}

func startSession(boards Boards, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req sessionRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		mode, err := syncer.ParseMode(req.Mode)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		userID := ""
		if mode == syncer.ModeRemote {
			userID, err = auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return c.String(http.StatusUnauthorized, err.Error())
			}
		}
		if err := boards.Start(c.Request().Context(), mode, userID); err != nil {
			logger.WithError(err).WithField("mode", mode.String()).Warn("session start failed")
			if errors.Is(err, syncer.ErrLoadFailed) {
				return c.String(http.StatusBadGateway, syncer.FriendlyLoadError(err))
			}
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, sessionInfo(boards))
	}
}

func stopSession(boards Boards, local Clearer) echo.HandlerFunc {
	return func(c echo.Context) error {
		boards.Stop()
		if c.QueryParam("clear") == "true" && local != nil {
			if err := local.Clear(c.Request().Context()); err != nil {
				return fail(c, err)
			}
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getSession(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, sessionInfo(boards))
	}
}

func getState(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, boards.State())
	}
}

type nameRequest struct {
	Name string `json:"name"`
}

type titleRequest struct {
	Title string `json:"title"`
}

func createBoard(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req nameRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		b, err := boards.CreateBoard(req.Name)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, b)
	}
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func getBoard(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := boards.FilteredBoard(c.Param("board"), splitTags(c.QueryParam("tags")))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, b)
	}
}

func renameBoard(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req nameRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		if err := boards.RenameBoard(c.Param("board"), req.Name); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteBoard(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := boards.DeleteBoard(c.Param("board")); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type activeBoardRequest struct {
	BoardID string `json:"boardId"`
}

func setActiveBoard(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req activeBoardRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		if err := boards.SetActiveBoard(req.BoardID); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func boardTags(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		tags, err := boards.BoardTags(c.Param("board"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, tags)
	}
}

func createList(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req titleRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		l, err := boards.CreateList(c.Param("board"), req.Title)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, l)
	}
}

func renameList(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req titleRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		if err := boards.RenameList(c.Param("board"), c.Param("list"), req.Title); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteList(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := boards.DeleteList(c.Param("board"), c.Param("list")); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type cardRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags"`
}

func (r cardRequest) input() domain.CardInput {
	return domain.CardInput{Title: r.Title, Description: r.Description, Priority: r.Priority, Tags: r.Tags}
}

func createCard(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req cardRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		card, err := boards.CreateCard(c.Param("board"), c.Param("list"), req.input())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, card)
	}
}

func editCard(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req cardRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		card, err := boards.EditCard(c.Param("board"), c.Param("card"), req.input())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, card)
	}
}

func deleteCard(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := boards.DeleteCard(c.Param("board"), c.Param("card")); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type moveRequest struct {
	ListID string `json:"listId"`
	// Index is the position in the target list; omitted appends.
	Index *int `json:"index"`
}

func moveCard(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req moveRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		index := -1
		if req.Index != nil {
			index = *req.Index
		}
		if err := boards.MoveCard(c.Param("board"), c.Param("card"), req.ListID, index); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func exportBoards(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, filename, err := boards.Export()
		if err != nil {
			return fail(c, err)
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
	}
}

// claimRequest records the Idempotency-Key of a request that appends to
// the tree. It reports false when the key was seen before. The returned
// release func forgets the key again and is used when the request fails.
func claimRequest(c echo.Context, boards Boards, deduper Deduper, logger *log.Logger) (bool, func()) {
	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if deduper == nil || key == "" {
		return true, func() {}
	}
	_, userID, _ := boards.Session()
	if userID == "" {
		userID = localUserID
	}
	ctx := c.Request().Context()
	added, err := deduper.Add(ctx, userID, key)
	if err != nil {
		// Redis being down must not block edits.
		logger.WithError(err).Warn("idempotency check failed")
		return true, func() {}
	}
	return added, func() {
		if err := deduper.Remove(context.WithoutCancel(ctx), userID, key); err != nil {
			logger.WithError(err).WithField("key", key).Error("idempotency rollback failed")
		}
	}
}

type importResponse struct {
	Imported  int  `json:"imported"`
	Duplicate bool `json:"duplicate,omitempty"`
}

func importBoards(boards Boards, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		mode, err := domain.ParseImportMode(c.QueryParam("mode"))
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxImportSize))
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		ok, release := claimRequest(c, boards, deduper, logger)
		if !ok {
			return c.JSON(http.StatusOK, importResponse{Duplicate: true})
		}
		n, err := boards.Import(data, mode)
		if err != nil {
			release()
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, importResponse{Imported: n})
	}
}

type transcriptResponse struct {
	Cards     []domain.Card `json:"cards"`
	Duplicate bool          `json:"duplicate,omitempty"`
}

func addTranscript(boards Boards, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		ok, release := claimRequest(c, boards, deduper, logger)
		if !ok {
			return c.JSON(http.StatusOK, transcriptResponse{Cards: []domain.Card{}, Duplicate: true})
		}
		cards, err := boards.AddTranscriptCards(string(data))
		if err != nil {
			release()
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, transcriptResponse{Cards: cards})
	}
}
