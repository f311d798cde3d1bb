package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/2beens/liftlog/internal/telemetry/metrics"
	"github.com/2beens/liftlog/pkg"

	log "github.com/sirupsen/logrus"
)

type panicResponse struct {
	Error string `json:"error"`
}

// headerTracker notes whether the handler already started its response.
type headerTracker struct {
	http.ResponseWriter
	wroteHeader bool
}

func (t *headerTracker) WriteHeader(statusCode int) {
	t.wroteHeader = true
	t.ResponseWriter.WriteHeader(statusCode)
}

func (t *headerTracker) Write(b []byte) (int, error) {
	t.wroteHeader = true
	return t.ResponseWriter.Write(b)
}

// PanicRecovery turns a handler panic into a JSON 500, unless the handler
// already started writing, in which case the response is left as it is.
func PanicRecovery(metricsManager *metrics.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(respWriter http.ResponseWriter, req *http.Request) {
			tracker := &headerTracker{ResponseWriter: respWriter}
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				log.WithFields(log.Fields{
					"route":  routeTemplate(req),
					"method": req.Method,
					"device": req.Header.Get(DeviceHeader),
				}).Errorf("panic serving workouts request: %v\n%s", r, debug.Stack())
				if metricsManager != nil {
					metricsManager.CounterHandleRequestPanic.Inc()
				}
				if !tracker.wroteHeader {
					pkg.WriteJSON(respWriter, panicResponse{Error: "internal error"}, http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(tracker, req)
		})
	}
}
