package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

// Evaluator produces a rubric-based assessment of a conversation.
type Evaluator interface {
	Evaluate(ctx context.Context, rubric string, messages []types.ChatMessage) (string, error)
}

// HealthChecker reports datastore health for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP surface around the relay: login lookups, catalog
// listings, topic provisioning and rubric evaluations. No business logic
// lives here, only HTTP handling and JSON serialization.
type Server struct {
	store     interfaces.Store
	directory interfaces.Directory
	evaluator Evaluator
	health    HealthChecker
	router    *http.ServeMux
}

// NewServer wires the routes.
func NewServer(store interfaces.Store, directory interfaces.Directory, evaluator Evaluator, health HealthChecker) *Server {
	s := &Server{
		store:     store,
		directory: directory,
		evaluator: evaluator,
		health:    health,
		router:    http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	wrap := func(h http.HandlerFunc) http.Handler {
		return s.corsMiddleware(s.jsonMiddleware(h))
	}
	s.router.Handle("/students/", wrap(s.handleStudent))
	s.router.Handle("/teachers/", wrap(s.handleTeacher))
	s.router.Handle("/classes", wrap(s.handleClasses))
	s.router.Handle("/topics", wrap(s.handleTopics))
	s.router.Handle("/rooms", wrap(s.handleRooms))
	s.router.Handle("/messages", wrap(s.handleMessages))
	s.router.Handle("/interventions", wrap(s.handleInterventions))
	s.router.Handle("/evaluate", wrap(s.handleEvaluate))
	s.router.Handle("/health", wrap(s.handleHealth))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStudent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/students/")
	if id == "" {
		s.sendError(w, "student id required", http.StatusBadRequest)
		return
	}
	student, err := s.directory.GetStudent(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			s.sendError(w, "unknown student id", http.StatusNotFound)
		} else {
			s.sendError(w, "student lookup failed", http.StatusInternalServerError)
		}
		return
	}
	s.sendJSON(w, http.StatusOK, student)
}

func (s *Server) handleTeacher(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/teachers/")
	if id == "" {
		s.sendError(w, "teacher id required", http.StatusBadRequest)
		return
	}
	teacher, err := s.directory.GetTeacher(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			s.sendError(w, "unknown teacher id", http.StatusNotFound)
		} else {
			s.sendError(w, "teacher lookup failed", http.StatusInternalServerError)
		}
		return
	}
	s.sendJSON(w, http.StatusOK, teacher)
}

func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	classes, err := s.directory.ListClasses(r.Context())
	if err != nil {
		s.sendError(w, "failed to list classes", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, classes)
}

type createTopicRequest struct {
	Title        string `json:"title"`
	SystemPrompt string `json:"system_prompt"`
	RubricPrompt string `json:"rubric_prompt"`
	ClassID      string `json:"class_id"`
	RoomCount    int    `json:"room_count"`
}

type createTopicResponse struct {
	Message string       `json:"message"`
	TopicID string       `json:"topic_id"`
	Rooms   []types.Room `json:"rooms"`
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		topics, err := s.directory.ListTopics(r.Context())
		if err != nil {
			s.sendError(w, "failed to list topics", http.StatusInternalServerError)
			return
		}
		s.sendJSON(w, http.StatusOK, topics)

	case http.MethodPost:
		var req createTopicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		if req.Title == "" || req.SystemPrompt == "" {
			s.sendError(w, "title and system_prompt are required", http.StatusBadRequest)
			return
		}

		topic := types.Topic{
			Title:        req.Title,
			SystemPrompt: req.SystemPrompt,
			RubricPrompt: req.RubricPrompt,
			ClassID:      req.ClassID,
		}
		rooms, err := s.directory.CreateTopicWithRooms(r.Context(), &topic, req.RoomCount)
		if err != nil {
			logrus.WithError(err).Error("topic creation failed")
			s.sendError(w, "failed to create topic", http.StatusInternalServerError)
			return
		}
		s.sendJSON(w, http.StatusCreated, createTopicResponse{
			Message: "topic and rooms created",
			TopicID: topic.TopicID,
			Rooms:   rooms,
		})

	default:
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rooms, err := s.directory.ListRooms(r.Context())
	if err != nil {
		s.sendError(w, "failed to list rooms", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, rooms)
}

// handleMessages serves room history over HTTP for dashboard views.
// Whisper filtering applies when a requester id is given; without one only
// room-visible messages are returned.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		s.sendError(w, "room_id is required", http.StatusBadRequest)
		return
	}
	requester := r.URL.Query().Get("requester_id")
	history, err := s.store.RoomHistoryFor(r.Context(), roomID, requester)
	if err != nil {
		s.sendError(w, "failed to load messages", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, history)
}

// handleInterventions serves the assistant's audit log for a room so
// teachers can review why each intervention fired.
func (s *Server) handleInterventions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		s.sendError(w, "room_id is required", http.StatusBadRequest)
		return
	}
	records, err := s.store.InterventionsForRoom(r.Context(), roomID)
	if err != nil {
		s.sendError(w, "failed to load interventions", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, records)
}

type evaluateRequest struct {
	RoomID    string `json:"room_id"`
	StudentID string `json:"student_id,omitempty"`
}

type evaluateResponse struct {
	Summary string `json:"summary"`
}

// handleEvaluate runs a rubric evaluation over a room's conversation,
// optionally narrowed to one student's messages, and persists the result
// for the teacher dashboard.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
		s.sendError(w, "room_id is required", http.StatusBadRequest)
		return
	}

	rubric, err := s.store.RubricPrompt(r.Context(), req.RoomID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			s.sendError(w, "room has no rubric", http.StatusNotFound)
		} else {
			s.sendError(w, "rubric lookup failed", http.StatusInternalServerError)
		}
		return
	}

	history, err := s.store.RoomHistory(r.Context(), req.RoomID)
	if err != nil {
		s.sendError(w, "failed to load messages", http.StatusInternalServerError)
		return
	}

	messages := history
	if req.StudentID != "" {
		messages = messages[:0:0]
		for _, msg := range history {
			if msg.Role == types.RoleUser && msg.SenderID == req.StudentID {
				messages = append(messages, msg)
			}
		}
	}

	summary, err := s.evaluator.Evaluate(r.Context(), rubric, messages)
	if err != nil {
		logrus.WithError(err).WithField("room_id", req.RoomID).Error("evaluation failed")
		s.sendError(w, "evaluation failed", http.StatusBadGateway)
		return
	}

	evalType := "group"
	if req.StudentID != "" {
		evalType = "individual"
	}
	eval := &types.Evaluation{
		RoomID:         req.RoomID,
		StudentID:      req.StudentID,
		Summary:        summary,
		EvaluationType: evalType,
	}
	if err := s.store.SaveEvaluation(r.Context(), eval); err != nil {
		// The summary is still returned; only the archived copy is lost.
		logrus.WithError(err).Error("failed to persist evaluation result")
	}

	s.sendJSON(w, http.StatusOK, evaluateResponse{Summary: summary})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if err := s.health.HealthCheck(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		body["database"] = err.Error()
	}
	s.sendJSON(w, status, body)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("response encoding failed")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, errorResponse{Error: message})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
