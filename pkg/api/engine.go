package api

import (
	"encoding/base32"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/nebula/pkg/bali"
	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/notary"
	"github.com/cuemby/nebula/pkg/repoerr"
	"github.com/cuemby/nebula/pkg/storage"
	"github.com/cuemby/nebula/pkg/types"
)

const mediaType = "application/bali"

// RequestEngine maps HTTP verbs onto StorageMechanism calls. It is
// an http.Handler rooted at /repository/.
type RequestEngine struct {
	store        storage.StorageMechanism
	authenticate bool
	logger       zerolog.Logger
}

// NewRequestEngine builds a RequestEngine over store. With authenticate
// set, every request must carry a valid nebula-credentials header (a
// base32-encoded, self-signed credentials Contract).
func NewRequestEngine(store storage.StorageMechanism, authenticate bool) *RequestEngine {
	return &RequestEngine{
		store:        store,
		authenticate: authenticate,
		logger:       log.WithComponent("api.engine"),
	}
}

// ServeHTTP dispatches on the namespace segment after /repository/.
func (e *RequestEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/repository/")
	if path == r.URL.Path {
		http.NotFound(w, r)
		return
	}
	namespace, rest, _ := strings.Cut(path, "/")

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.HTTPRequestDuration, r.Method, namespace)
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	w = rec
	defer func() {
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, namespace, strconv.Itoa(rec.status)).Inc()
	}()

	if e.authenticate && !e.validCredentials(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch namespace {
	case "names":
		e.handleName(w, r, rest)
	case "documents":
		e.handleDocument(w, r, rest)
	case "contracts":
		e.handleContract(w, r, rest)
	case "messages":
		e.handleMessage(w, r, rest)
	default:
		http.NotFound(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// validCredentials checks the nebula-credentials header: base32 text of a
// credentials Contract that verifies against its own embedded public key.
func (e *RequestEngine) validCredentials(r *http.Request) bool {
	header := r.Header.Get("nebula-credentials")
	if header == "" {
		return false
	}
	data, err := base32.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}
	contract, err := bali.DecodeContract(data)
	if err != nil {
		return false
	}
	return notary.ValidContract(contract, nil)
}

// writeError maps the error taxonomy onto status codes.
func (e *RequestEngine) writeError(w http.ResponseWriter, err error) {
	kind, ok := repoerr.KindOf(err)
	if !ok {
		e.logger.Error().Err(err).Msg("request failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	switch kind {
	case repoerr.NameExists, repoerr.ContractExists, repoerr.DocumentExists,
		repoerr.BagFull, repoerr.MessageExists, repoerr.LeaseExpired:
		w.WriteHeader(http.StatusConflict)
	case repoerr.MissingDocument, repoerr.UnknownName, repoerr.UnknownType,
		repoerr.UnknownBag, repoerr.NoBag:
		w.WriteHeader(http.StatusNotFound)
	case repoerr.ModifiedDocument, repoerr.ContractInvalid:
		w.WriteHeader(http.StatusUnprocessableEntity)
	case repoerr.MalformedRequest:
		w.WriteHeader(http.StatusBadRequest)
	case repoerr.ServerDown:
		w.WriteHeader(http.StatusBadGateway)
	default:
		e.logger.Error().Err(err).Msg("request failed")
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("content-type", mediaType)
	w.Header().Set("content-length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	w.Write(body)
}

// parseCitationPath turns a "<tag>/<version>" path into an addressing
// Citation (no digest — addressing only, integrity belongs to Validated).
func parseCitationPath(path string) (types.Citation, bool) {
	tagPart, versionPart, found := strings.Cut(path, "/")
	if !found {
		return types.Citation{}, false
	}
	tag, err := types.ParseTag(tagPart)
	if err != nil {
		return types.Citation{}, false
	}
	version, err := types.ParseVersion("v" + versionPart)
	if err != nil {
		return types.Citation{}, false
	}
	return types.Citation{Protocol: types.CitationProtocol, Tag: tag, Version: version}, true
}

func (e *RequestEngine) handleName(w http.ResponseWriter, r *http.Request, rest string) {
	name, err := types.NewName("/" + rest)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodHead:
		exists, err := e.store.NameExists(ctx, name)
		if err != nil {
			e.writeError(w, err)
			return
		}
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		citation, err := e.store.ReadName(ctx, name)
		if err != nil {
			e.writeError(w, err)
			return
		}
		if citation == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeBody(w, http.StatusOK, bali.EncodeCitation(*citation))
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		citation, err := bali.DecodeCitation(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, err := e.store.WriteName(ctx, name, citation); err != nil {
			e.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (e *RequestEngine) handleDocument(w http.ResponseWriter, r *http.Request, rest string) {
	citation, ok := parseCitationPath(rest)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodHead:
		exists, err := e.store.DocumentExists(ctx, citation)
		if err != nil {
			e.writeError(w, err)
			return
		}
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		doc, err := e.store.ReadDocument(ctx, citation)
		if err != nil {
			e.writeError(w, err)
			return
		}
		if doc == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		data, err := bali.EncodeDocument(*doc)
		if err != nil {
			e.writeError(w, err)
			return
		}
		writeBody(w, http.StatusOK, data)
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		doc, err := bali.DecodeDocument(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		existed, err := e.store.DocumentExists(ctx, citation)
		if err != nil {
			e.writeError(w, err)
			return
		}
		if _, err := e.store.WriteDocument(ctx, doc); err != nil {
			e.writeError(w, err)
			return
		}
		if existed {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusCreated)
		}
	case http.MethodDelete:
		doc, err := e.store.DeleteDocument(ctx, citation)
		if err != nil {
			e.writeError(w, err)
			return
		}
		if doc == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		data, err := bali.EncodeDocument(*doc)
		if err != nil {
			e.writeError(w, err)
			return
		}
		writeBody(w, http.StatusOK, data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (e *RequestEngine) handleContract(w http.ResponseWriter, r *http.Request, rest string) {
	citation, ok := parseCitationPath(rest)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodHead:
		exists, err := e.store.ContractExists(ctx, citation)
		if err != nil {
			e.writeError(w, err)
			return
		}
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("cache-control", "immutable")
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		contract, err := e.store.ReadContract(ctx, citation)
		if err != nil {
			e.writeError(w, err)
			return
		}
		if contract == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		data, err := bali.EncodeContract(*contract)
		if err != nil {
			e.writeError(w, err)
			return
		}
		w.Header().Set("cache-control", "immutable")
		writeBody(w, http.StatusOK, data)
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		contract, err := bali.DecodeContract(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, err := e.store.WriteContract(ctx, contract); err != nil {
			e.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleMessage covers both the bag-level operations (<tag>/<version>) and
// the subresource operations (<tag>/<version>/<mtag>/<mversion>).
func (e *RequestEngine) handleMessage(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 2:
		bag, ok := parseCitationPath(rest)
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		e.handleBag(w, r, bag)
	case 4:
		bag, ok := parseCitationPath(parts[0] + "/" + parts[1])
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		message, ok := parseCitationPath(parts[2] + "/" + parts[3])
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		e.handleBagMessage(w, r, bag, message)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (e *RequestEngine) handleBag(w http.ResponseWriter, r *http.Request, bag types.Citation) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodHead:
		available, err := e.store.MessageAvailable(ctx, bag)
		if err != nil {
			e.writeError(w, err)
			return
		}
		if !available {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		count, err := e.store.MessageCount(ctx, bag)
		if err != nil {
			e.writeError(w, err)
			return
		}
		writeBody(w, http.StatusOK, []byte(strconv.Itoa(count)+"\n"))
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		message, err := bali.DecodeMessage(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := e.store.AddMessage(ctx, bag, message); err != nil {
			e.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		message, err := e.store.RemoveMessage(ctx, bag)
		if err != nil {
			e.writeError(w, err)
			return
		}
		if message == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		data, err := bali.EncodeMessage(*message)
		if err != nil {
			e.writeError(w, err)
			return
		}
		writeBody(w, http.StatusOK, data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (e *RequestEngine) handleBagMessage(w http.ResponseWriter, r *http.Request, bag, message types.Citation) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		msg, err := bali.DecodeMessage(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := e.store.ReturnMessage(ctx, bag, msg); err != nil {
			e.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		msg, err := e.store.DeleteMessage(ctx, bag, message)
		if err != nil {
			e.writeError(w, err)
			return
		}
		data, err := bali.EncodeMessage(*msg)
		if err != nil {
			e.writeError(w, err)
			return
		}
		writeBody(w, http.StatusOK, data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
