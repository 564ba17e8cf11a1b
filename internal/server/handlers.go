package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/ledger"
)

type expenseRequest struct {
	Amount   float64 `json:"amount"`
	Category string  `json:"category"`
	// Date is YYYY-MM-DD or RFC 3339. Empty means now.
	Date  string `json:"date"`
	Notes string `json:"notes"`
}

type textRequest struct {
	Text string `json:"text" binding:"required"`
	// Ref makes retries idempotent: a repeated ref returns the stored expense.
	Ref string `json:"ref"`
}

type editRequest struct {
	Amount   *float64 `json:"amount"`
	Category *string  `json:"category"`
	Date     *string  `json:"date"`
	Notes    *string  `json:"notes"`
}

type categoryRequest struct {
	Name string `json:"name" binding:"required"`
}

type resultResponse struct {
	Expense       api.Expense        `json:"expense"`
	CategoryAdded bool               `json:"categoryAdded"`
	Duplicate     bool               `json:"duplicate"`
	MonthTotal    float64            `json:"monthTotal"`
	Level         ledger.BudgetLevel `json:"level"`
	Persisted     bool               `json:"persisted"`
}

// writeError maps ledger errors to status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, ledger.ErrInvalidSnapshot):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrNoMatch):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	loc := s.ledger.Now().Location()
	if t, err := time.ParseInLocation(time.DateOnly, raw, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &ledger.ValidationError{Field: "date", Reason: "expected YYYY-MM-DD"}
	}
	return t, nil
}

func (s *Server) respondResult(c *gin.Context, res ledger.Result) {
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, resultResponse{
		Expense:       res.Expense,
		CategoryAdded: res.CategoryAdded,
		Duplicate:     res.Duplicate,
		MonthTotal:    res.MonthTotal,
		Level:         s.ledger.Summary(s.ledger.Now()).Level,
		Persisted:     res.PersistErr == nil,
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"bot":      s.status(),
		"expenses": len(s.ledger.Expenses(ledger.Filter{})),
		"time":     s.ledger.Now().Format(time.RFC3339),
	})
}

func (s *Server) createExpense(c *gin.Context) {
	var req expenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := s.parseDate(req.Date)
	if err != nil {
		s.writeError(c, err)
		return
	}

	res, err := s.ledger.AddManual(c.Request.Context(), ledger.ManualEntry{
		Amount:   req.Amount,
		Category: req.Category,
		Date:     date,
		Notes:    req.Notes,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.respondResult(c, res)
}

func (s *Server) ingestText(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Free text goes through the same extraction as a chat message, so it is
	// tagged as chat; only structured entries count as manual.
	res, err := s.ledger.IngestText(c.Request.Context(), req.Text, api.SourceChat, req.Ref)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.respondResult(c, res)
}

func (s *Server) listExpenses(c *gin.Context) {
	month := ledger.MonthFilter(c.DefaultQuery("month", string(ledger.MonthAll)))
	switch month {
	case ledger.MonthAll, ledger.MonthCurrent, ledger.MonthLast:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown month filter %q", month)})
		return
	}

	c.JSON(http.StatusOK, s.ledger.Expenses(ledger.Filter{
		Query:    c.Query("q"),
		Category: c.Query("category"),
		Month:    month,
	}))
}

func (s *Server) recentExpenses(c *gin.Context) {
	limit := ledger.DefaultRecent
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, s.ledger.Recent(limit))
}

func (s *Server) expenseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expense id"})
		return 0, false
	}
	return id, true
}

func (s *Server) getExpense(c *gin.Context) {
	id, ok := s.expenseID(c)
	if !ok {
		return
	}
	e, found := s.ledger.Get(id)
	if !found {
		s.writeError(c, fmt.Errorf("expense %d: %w", id, ledger.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) updateExpense(c *gin.Context) {
	id, ok := s.expenseID(c)
	if !ok {
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	edit := ledger.Edit{Amount: req.Amount, Category: req.Category, Notes: req.Notes}
	if req.Date != nil {
		date, err := s.parseDate(*req.Date)
		if err != nil {
			s.writeError(c, err)
			return
		}
		edit.Date = &date
	}

	e, err := s.ledger.UpdateExpense(c.Request.Context(), id, edit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) deleteExpense(c *gin.Context) {
	id, ok := s.expenseID(c)
	if !ok {
		return
	}
	if err := s.ledger.DeleteExpense(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) summary(c *gin.Context) {
	c.JSON(http.StatusOK, s.ledger.Summary(s.ledger.Now()))
}

func (s *Server) listCategories(c *gin.Context) {
	c.JSON(http.StatusOK, s.ledger.Categories())
}

func (s *Server) addCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	added, err := s.ledger.AddCategory(c.Request.Context(), req.Name)
	if err != nil {
		s.writeError(c, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"added": added, "categories": s.ledger.Categories()})
}

func (s *Server) removeCategory(c *gin.Context) {
	cascade, _ := strconv.ParseBool(c.Query("cascade"))
	removed, err := s.ledger.RemoveCategory(c.Request.Context(), c.Param("name"), cascade)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removedExpenses": removed, "categories": s.ledger.Categories()})
}

func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.ledger.Settings())
}

func (s *Server) updateSettings(c *gin.Context) {
	// Omitted fields keep their current values.
	settings := s.ledger.Settings()
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	saved, err := s.ledger.UpdateSettings(c.Request.Context(), settings)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) export(c *gin.Context) {
	snap := s.ledger.Export()
	filename := fmt.Sprintf("masrouf-%s.json", snap.ExportedAt.Format(time.DateOnly))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.JSON(http.StatusOK, snap)
}

func (s *Server) importSnapshot(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading body: " + err.Error()})
		return
	}

	snap, mode, err := ledger.DecodeSnapshot(data)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if raw := c.Query("mode"); raw != "" {
		if mode, err = ledger.ParseImportMode(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	stats, err := s.ledger.Import(c.Request.Context(), snap, mode)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "added": stats.Added, "skipped": stats.Skipped})
}

func (s *Server) reset(c *gin.Context) {
	if err := s.ledger.Reset(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
