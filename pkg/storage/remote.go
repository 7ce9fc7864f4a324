package storage

import (
	"bytes"
	"context"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/nebula/pkg/bali"
	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/notary"
	"github.com/cuemby/nebula/pkg/repoerr"
	"github.com/cuemby/nebula/pkg/types"
)

const mediaType = "application/bali"

// Remote is the HTTP/1.1 client StorageMechanism backend, talking
// to another node's RequestEngine. An optional set of peer base URIs lets
// it fire a best-effort Announce after a successful WriteName so a
// peer's Cached layer can warm itself; this is advisory only, never
// replication or consensus.
type Remote struct {
	baseURL string
	client  *http.Client
	notary  *notary.Notary
	peers   []string
}

// NewRemote builds a Remote backend against baseURL, using n to mint the
// nebula-credentials header on every request.
func NewRemote(baseURL string, n *notary.Notary, peers []string) *Remote {
	return &Remote{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		notary:  n,
		peers:   peers,
	}
}

func (r *Remote) credentialsHeader() (string, error) {
	cred, err := r.notary.GenerateCredentials()
	if err != nil {
		return "", err
	}
	data, err := bali.EncodeContract(cred)
	if err != nil {
		return "", err
	}
	return base32.StdEncoding.EncodeToString(data), nil
}

func (r *Remote) do(ctx context.Context, method, path string, digest, subdigest []byte, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "do", map[string]any{"method": method, "path": path}, err)
	}
	req.Header.Set("accept", mediaType)
	if body != nil {
		req.Header.Set("content-type", mediaType)
		req.Header.Set("content-length", strconv.Itoa(len(body)))
	}
	if cred, err := r.credentialsHeader(); err == nil {
		req.Header.Set("nebula-credentials", cred)
	}
	if digest != nil {
		req.Header.Set("nebula-digest", hex.EncodeToString(digest))
	}
	if subdigest != nil {
		req.Header.Set("nebula-subdigest", hex.EncodeToString(subdigest))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.ServerDown, "storage.remote", "do", map[string]any{"method": method, "path": path}, err)
	}
	return resp, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func namePath(name types.Name) string {
	return "/repository/names" + name.String()
}

func contractPath(citation types.Citation) string {
	return fmt.Sprintf("/repository/contracts/%s/%s", citation.Tag.Key(), citation.Version.Key())
}

func remoteDocumentPath(citation types.Citation) string {
	return fmt.Sprintf("/repository/documents/%s/%s", citation.Tag.Key(), citation.Version.Key())
}

func bagPath(bag types.Citation) string {
	return fmt.Sprintf("/repository/messages/%s/%s", bag.Tag.Key(), bag.Version.Key())
}

func messagePath(bag, message types.Citation) string {
	return fmt.Sprintf("/repository/messages/%s/%s/%s/%s", bag.Tag.Key(), bag.Version.Key(), message.Tag.Key(), message.Version.Key())
}

func statusError(resp *http.Response, module, procedure string) error {
	return repoerr.NewStatus(resp.StatusCode, module, procedure, nil)
}

func (r *Remote) NameExists(ctx context.Context, name types.Name) (bool, error) {
	resp, err := r.do(ctx, http.MethodHead, namePath(name), nil, nil, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError(resp, "storage.remote", "NameExists")
	}
}

func (r *Remote) ReadName(ctx context.Context, name types.Name) (*types.Citation, error) {
	resp, err := r.do(ctx, http.MethodGet, namePath(name), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		data, err := readBody(resp)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "ReadName", nil, err)
		}
		c, err := bali.DecodeCitation(data)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "ReadName", nil, err)
		}
		return &c, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, nil
	default:
		defer resp.Body.Close()
		return nil, statusError(resp, "storage.remote", "ReadName")
	}
}

func (r *Remote) WriteName(ctx context.Context, name types.Name, citation types.Citation) (types.Citation, error) {
	body := bali.EncodeCitation(citation)
	resp, err := r.do(ctx, http.MethodPut, namePath(name), citation.Digest, nil, body)
	if err != nil {
		return types.Citation{}, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		r.announce(ctx, name, citation)
		return citation, nil
	case http.StatusConflict:
		return types.Citation{}, repoerr.New(repoerr.NameExists, "storage.remote", "WriteName", map[string]any{"name": name.String()})
	default:
		return types.Citation{}, statusError(resp, "storage.remote", "WriteName")
	}
}

// announce fires a best-effort gRPC hint to configured peers after a
// successful WriteName. Disabled by default (no peers configured);
// failures are logged at warn and never fail the write.
func (r *Remote) announce(ctx context.Context, name types.Name, citation types.Citation) {
	for _, peer := range r.peers {
		if err := announcePeer(ctx, peer, name, citation); err != nil {
			logger := log.WithComponent("storage.remote")
			logger.Warn().Str("peer", peer).Str("name", name.String()).Err(err).Msg("peer announce failed")
		}
	}
}

func (r *Remote) DocumentExists(ctx context.Context, citation types.Citation) (bool, error) {
	resp, err := r.do(ctx, http.MethodHead, remoteDocumentPath(citation), citation.Digest, nil, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError(resp, "storage.remote", "DocumentExists")
	}
}

func (r *Remote) ReadDocument(ctx context.Context, citation types.Citation) (*types.Document, error) {
	resp, err := r.do(ctx, http.MethodGet, remoteDocumentPath(citation), citation.Digest, nil, nil)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		data, err := readBody(resp)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "ReadDocument", nil, err)
		}
		doc, err := bali.DecodeDocument(data)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "ReadDocument", nil, err)
		}
		return &doc, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, nil
	default:
		defer resp.Body.Close()
		return nil, statusError(resp, "storage.remote", "ReadDocument")
	}
}

func (r *Remote) WriteDocument(ctx context.Context, document types.Document) (types.Citation, error) {
	citation, err := notary.CiteDocument(document)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.remote", "WriteDocument", nil, err)
	}
	body, err := bali.EncodeDocument(document)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.remote", "WriteDocument", nil, err)
	}
	resp, err := r.do(ctx, http.MethodPut, remoteDocumentPath(citation), citation.Digest, nil, body)
	if err != nil {
		return types.Citation{}, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return citation, nil
	case http.StatusConflict:
		return types.Citation{}, repoerr.New(repoerr.DocumentExists, "storage.remote", "WriteDocument", map[string]any{"tag": citation.Tag.String()})
	default:
		return types.Citation{}, statusError(resp, "storage.remote", "WriteDocument")
	}
}

func (r *Remote) DeleteDocument(ctx context.Context, citation types.Citation) (*types.Document, error) {
	resp, err := r.do(ctx, http.MethodDelete, remoteDocumentPath(citation), citation.Digest, nil, nil)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		data, err := readBody(resp)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "DeleteDocument", nil, err)
		}
		doc, err := bali.DecodeDocument(data)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "DeleteDocument", nil, err)
		}
		return &doc, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, nil
	default:
		defer resp.Body.Close()
		return nil, statusError(resp, "storage.remote", "DeleteDocument")
	}
}

func (r *Remote) ContractExists(ctx context.Context, citation types.Citation) (bool, error) {
	resp, err := r.do(ctx, http.MethodHead, contractPath(citation), citation.Digest, nil, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError(resp, "storage.remote", "ContractExists")
	}
}

func (r *Remote) ReadContract(ctx context.Context, citation types.Citation) (*types.Contract, error) {
	resp, err := r.do(ctx, http.MethodGet, contractPath(citation), citation.Digest, nil, nil)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		data, err := readBody(resp)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "ReadContract", nil, err)
		}
		c, err := bali.DecodeContract(data)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "ReadContract", nil, err)
		}
		return &c, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, nil
	default:
		defer resp.Body.Close()
		return nil, statusError(resp, "storage.remote", "ReadContract")
	}
}

func (r *Remote) WriteContract(ctx context.Context, contract types.Contract) (types.Citation, error) {
	citation, err := notary.CiteDocument(contract.Document)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.remote", "WriteContract", nil, err)
	}
	body, err := bali.EncodeContract(contract)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.remote", "WriteContract", nil, err)
	}
	resp, err := r.do(ctx, http.MethodPut, contractPath(citation), citation.Digest, nil, body)
	if err != nil {
		return types.Citation{}, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusCreated:
		return citation, nil
	case http.StatusConflict:
		return types.Citation{}, repoerr.New(repoerr.ContractExists, "storage.remote", "WriteContract", map[string]any{"tag": citation.Tag.String()})
	default:
		return types.Citation{}, statusError(resp, "storage.remote", "WriteContract")
	}
}

func (r *Remote) MessageAvailable(ctx context.Context, bag types.Citation) (bool, error) {
	resp, err := r.do(ctx, http.MethodHead, bagPath(bag), bag.Digest, nil, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError(resp, "storage.remote", "MessageAvailable")
	}
}

func (r *Remote) MessageCount(ctx context.Context, bag types.Citation) (int, error) {
	resp, err := r.do(ctx, http.MethodGet, bagPath(bag), bag.Digest, nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, statusError(resp, "storage.remote", "MessageCount")
	}
	data, err := readBody(resp)
	if err != nil {
		return 0, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "MessageCount", nil, err)
	}
	count, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil {
		return 0, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "MessageCount", nil, err)
	}
	return count, nil
}

func (r *Remote) AddMessage(ctx context.Context, bag types.Citation, message types.Message) error {
	body, err := bali.EncodeMessage(message)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.remote", "AddMessage", nil, err)
	}
	resp, err := r.do(ctx, http.MethodPost, bagPath(bag), bag.Digest, nil, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return nil
	case http.StatusConflict:
		return repoerr.New(repoerr.BagFull, "storage.remote", "AddMessage", map[string]any{"bag": bag.Key()})
	case http.StatusNotFound:
		return repoerr.New(repoerr.NoBag, "storage.remote", "AddMessage", map[string]any{"bag": bag.Key()})
	default:
		return statusError(resp, "storage.remote", "AddMessage")
	}
}

func (r *Remote) RemoveMessage(ctx context.Context, bag types.Citation) (*types.Message, error) {
	resp, err := r.do(ctx, http.MethodDelete, bagPath(bag), bag.Digest, nil, nil)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		data, err := readBody(resp)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "RemoveMessage", nil, err)
		}
		msg, err := bali.DecodeMessage(data)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "RemoveMessage", nil, err)
		}
		return &msg, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, nil
	default:
		defer resp.Body.Close()
		return nil, statusError(resp, "storage.remote", "RemoveMessage")
	}
}

func (r *Remote) ReturnMessage(ctx context.Context, bag types.Citation, message types.Message) error {
	msgCitation, err := notary.CiteDocument(message.Document)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.remote", "ReturnMessage", nil, err)
	}
	body, err := bali.EncodeMessage(message)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.remote", "ReturnMessage", nil, err)
	}
	resp, err := r.do(ctx, http.MethodPut, messagePath(bag, msgCitation), bag.Digest, msgCitation.Digest, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusNotFound, http.StatusConflict:
		return repoerr.New(repoerr.LeaseExpired, "storage.remote", "ReturnMessage", map[string]any{"tag": msgCitation.Tag.String()})
	default:
		return statusError(resp, "storage.remote", "ReturnMessage")
	}
}

func (r *Remote) DeleteMessage(ctx context.Context, bag types.Citation, citation types.Citation) (*types.Message, error) {
	resp, err := r.do(ctx, http.MethodDelete, messagePath(bag, citation), bag.Digest, citation.Digest, nil)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		data, err := readBody(resp)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "DeleteMessage", nil, err)
		}
		msg, err := bali.DecodeMessage(data)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.MalformedRequest, "storage.remote", "DeleteMessage", nil, err)
		}
		return &msg, nil
	case http.StatusNotFound, http.StatusConflict:
		resp.Body.Close()
		return nil, repoerr.New(repoerr.LeaseExpired, "storage.remote", "DeleteMessage", map[string]any{"tag": citation.Tag.String()})
	default:
		defer resp.Body.Close()
		return nil, statusError(resp, "storage.remote", "DeleteMessage")
	}
}
