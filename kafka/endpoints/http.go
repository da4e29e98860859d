package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gmbyapa/kgroup/kafka"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/tryfix/log"
)

// StatusSource is the read only view of a consumer the endpoints expose. *kafka.GroupConsumer
// implements it.
type StatusSource interface {
	GroupId() string
	MemberID() (string, error)
	State() kafka.RebalanceState
	Subscription() []string
	Assignment() kafka.TopicPartitionList
	Lag() ([]kafka.PartitionLag, error)
}

type Err struct {
	Err string `json:"error"`
}

type consumerStatus struct {
	GroupId      string   `json:"group_id"`
	MemberId     string   `json:"member_id"`
	State        string   `json:"state"`
	Subscription []string `json:"subscription"`
}

type partition struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    string `json:"offset"`
}

type partitionLag struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Committed string `json:"committed"`
	High      int64  `json:"high"`
	Lag       int64  `json:"lag"`
}

// recoveryLogger forwards recovered panics to the endpoint logger.
type recoveryLogger struct {
	logger log.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error(fmt.Sprint(v...))
}

type handler struct {
	source StatusSource
	logger log.Logger
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	id, err := h.source.MemberID()
	if err != nil {
		h.writeError(w, err)
		return
	}

	subscription := h.source.Subscription()
	if subscription == nil {
		subscription = []string{}
	}

	h.encode(w, consumerStatus{
		GroupId:      h.source.GroupId(),
		MemberId:     id,
		State:        h.source.State().String(),
		Subscription: subscription,
	})
}

func (h *handler) assignment(w http.ResponseWriter, _ *http.Request) {
	assignment := h.source.Assignment()
	list := make([]partition, 0, len(assignment))
	for _, tp := range assignment {
		list = append(list, partition{
			Topic:     tp.Topic,
			Partition: tp.Partition,
			Offset:    tp.Offset.String(),
		})
	}

	h.encode(w, list)
}

func (h *handler) lag(w http.ResponseWriter, _ *http.Request) {
	lags, err := h.source.Lag()
	if err != nil {
		h.writeError(w, err)
		return
	}

	list := make([]partitionLag, 0, len(lags))
	for _, l := range lags {
		list = append(list, partitionLag{
			Topic:     l.Topic,
			Partition: l.Partition,
			Committed: l.Committed.String(),
			High:      l.High,
			Lag:       l.Lag,
		})
	}

	h.encode(w, list)
}

func (h *handler) encode(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error(err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, e error) {
	h.logger.Warn(fmt.Sprintf(`Request failed due to %s`, e))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	if err := json.NewEncoder(w).Encode(Err{Err: e.Error()}); err != nil {
		h.logger.Error(err)
	}
}

// NewHandler returns the status routes of a consumer.
func NewHandler(source StatusSource, logger log.Logger) http.Handler {
	h := &handler{
		source: source,
		logger: logger.NewLog(log.Prefixed(`Endpoints`)),
	}

	r := mux.NewRouter()
	r.HandleFunc(`/consumer`, h.status).Methods(http.MethodGet)
	r.HandleFunc(`/consumer/assignment`, h.assignment).Methods(http.MethodGet)
	r.HandleFunc(`/consumer/lag`, h.lag).Methods(http.MethodGet)

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger: h.logger}),
		handlers.PrintRecoveryStack(true),
	)

	return recovery(handlers.CORS()(r))
}

// MakeEndpoints serves the status routes on host. It returns the server so callers can shut it down.
func MakeEndpoints(host string, source StatusSource, logger log.Logger) *http.Server {
	srv := &http.Server{
		Addr:    host,
		Handler: NewHandler(source, logger),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf(`Cannot start web server : %+v`, err))
		}
	}()

	logger.Info(fmt.Sprintf(`Http server started on %s`, host))

	return srv
}
