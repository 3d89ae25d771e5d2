package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tickq/internal/domain"
	"tickq/internal/queue"
	"tickq/internal/scheduler"
)

// Server exposes the scheduler and queue operations as a JSON API. It is
// a thin mapping layer: all validation and semantics live in the services.
type Server struct {
	schedules *scheduler.Service
	queues    *queue.Service
}

func NewServer(schedules *scheduler.Service, queues *queue.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{schedules: schedules, queues: queues}

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", s.createSchedule)
			r.Get("/", s.listSchedules)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getSchedule)
				r.Put("/", s.updateSchedule)
				r.Delete("/", s.cancelSchedule)
			})
		})
		r.Post("/dispatch", s.dispatch)
		r.Route("/queues", func(r chi.Router) {
			r.Get("/", s.listQueues)
			r.Route("/{queue}", func(r chi.Router) {
				r.Get("/", s.queueAttributes)
				r.Post("/messages", s.sendMessage)
				r.Post("/messages/batch", s.sendBatch)
				r.Post("/receive", s.receiveMessages)
				r.Delete("/messages/{id}", s.deleteMessage)
				r.Post("/messages/{id}/visibility", s.changeVisibility)
				r.Post("/purge", s.purgeQueue)
			})
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type scheduleReq struct {
	Name         string `json:"schedule_name"`
	QueueName    string `json:"queue_name"`
	MessageBody  string `json:"message_body"`
	RunAtEpoch   *int64 `json:"run_at_epoch"`
	DelaySeconds *int64 `json:"delay_seconds"`
	Expression   string `json:"schedule_expression"`
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("invalid request body"))
		return
	}

	var sched domain.Schedule
	var err error
	switch {
	case req.Expression != "":
		sched, err = s.schedules.ScheduleRate(r.Context(), req.Expression, req.MessageBody, req.QueueName, req.Name)
	case req.RunAtEpoch != nil:
		sched, err = s.schedules.ScheduleAt(r.Context(), *req.RunAtEpoch, req.MessageBody, req.QueueName, req.Name)
	case req.DelaySeconds != nil:
		sched, err = s.schedules.ScheduleIn(r.Context(), *req.DelaySeconds, req.MessageBody, req.QueueName, req.Name)
	default:
		err = domain.NewValidationError("one of run_at_epoch, delay_seconds or schedule_expression is required")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	includeFired := r.URL.Query().Get("include_fired") == "true"
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	schedules, err := s.schedules.List(r.Context(), includeFired, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(schedules),
		"schedules": schedules,
	})
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.schedules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         *string `json:"schedule_name"`
		QueueName    *string `json:"queue_name"`
		MessageBody  *string `json:"message_body"`
		RunAtEpoch   *int64  `json:"run_at_epoch"`
		DelaySeconds *int64  `json:"delay_seconds"`
		Expression   *string `json:"schedule_expression"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("invalid request body"))
		return
	}

	sched, err := s.schedules.Update(r.Context(), chi.URLParam(r, "id"), scheduler.UpdateRequest{
		Name:         req.Name,
		QueueName:    req.QueueName,
		MessageBody:  req.MessageBody,
		RunAtEpoch:   req.RunAtEpoch,
		DelaySeconds: req.DelaySeconds,
		Expression:   req.Expression,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) cancelSchedule(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.schedules.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	req := struct {
		MaxToRun    int   `json:"max_to_run"`
		DeleteAfter *bool `json:"delete_after"`
	}{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domain.NewValidationError("invalid request body"))
			return
		}
	}
	deleteAfter := true
	if req.DeleteAfter != nil {
		deleteAfter = *req.DeleteAfter
	}

	count, err := s.schedules.RunDue(r.Context(), req.MaxToRun, deleteAfter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) listQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := s.queues.ListQueues(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if queues == nil {
		queues = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(queues), "queues": queues})
}

func (s *Server) queueAttributes(w http.ResponseWriter, r *http.Request) {
	attrs, err := s.queues.Attributes(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attrs)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body         string `json:"body"`
		DelaySeconds int64  `json:"delay_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("invalid request body"))
		return
	}
	id, err := s.queues.Send(r.Context(), chi.URLParam(r, "queue"), req.Body, req.DelaySeconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message_id": id})
}

func (s *Server) sendBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []queue.BatchEntry `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("invalid request body"))
		return
	}
	result, err := s.queues.SendBatch(r.Context(), chi.URLParam(r, "queue"), req.Messages)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) receiveMessages(w http.ResponseWriter, r *http.Request) {
	req := struct {
		MaxMessages       int   `json:"max_messages"`
		VisibilityTimeout int64 `json:"visibility_timeout"`
	}{MaxMessages: 1, VisibilityTimeout: 30}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domain.NewValidationError("invalid request body"))
			return
		}
	}

	msgs, err := s.queues.Receive(r.Context(), chi.URLParam(r, "queue"), req.MaxMessages, req.VisibilityTimeout)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(msgs), "messages": msgs})
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.queues.Delete(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *Server) changeVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VisibilityTimeout int64 `json:"visibility_timeout"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("invalid request body"))
		return
	}
	updated, err := s.queues.ChangeVisibility(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id"), req.VisibilityTimeout)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": updated})
}

func (s *Server) purgeQueue(w http.ResponseWriter, r *http.Request) {
	n, err := s.queues.Purge(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

func writeError(w http.ResponseWriter, err error) {
	var de domain.Error
	if !errors.As(err, &de) {
		de = domain.ErrInternal
	}

	status := http.StatusInternalServerError
	switch de.Code {
	case domain.ErrCodeValidation, domain.ErrCodeInvalidExpression:
		status = http.StatusBadRequest
	case domain.ErrCodeNotFoundSchedule, domain.ErrCodeNotFoundMessage:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"code": de.Code, "error": de.Message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
