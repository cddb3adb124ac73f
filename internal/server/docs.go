package server

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	apperrors "chatterfix/internal/errors"
	"chatterfix/types"

	"github.com/gorilla/mux"
	"github.com/invopop/jsonschema"
)

// Route describes one registered endpoint
type Route struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
}

// APIDocs lists the routes and the JSON schemas of request and resource bodies
type APIDocs struct {
	Version string                        `json:"version"`
	Routes  []Route                       `json:"routes"`
	Schemas map[string]*jsonschema.Schema `json:"schemas"`
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
)

// bodySchemas reflects the body types once; they never change at runtime
func bodySchemas() map[string]*jsonschema.Schema {
	schemasOnce.Do(func() {
		reflector := jsonschema.Reflector{
			DoNotReference: true,
			ExpandedStruct: true,
		}
		schemas = map[string]*jsonschema.Schema{
			"WorkOrder":           reflector.Reflect(&types.WorkOrder{}),
			"Asset":               reflector.Reflect(&types.Asset{}),
			"Part":                reflector.Reflect(&types.Part{}),
			"MaintenanceSchedule": reflector.Reflect(&types.MaintenanceSchedule{}),
			"User":                reflector.Reflect(&userRequest{}),
			"CompleteWorkOrder":   reflector.Reflect(&completeRequest{}),
			"AdjustPart":          reflector.Reflect(&adjustRequest{}),
			"VoiceCommand":        reflector.Reflect(&voiceRequest{}),
			"ChatMessage":         reflector.Reflect(&chatRequest{}),
		}
	})
	return schemas
}

// handleAPIDocs walks the router so the listing always matches what is served
func (s *Server) handleAPIDocs(w http.ResponseWriter, r *http.Request) {
	byPath := map[string]map[string]bool{}
	err := s.router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			// Subrouter prefixes carry no methods of their own
			return nil
		}
		if byPath[path] == nil {
			byPath[path] = map[string]bool{}
		}
		for _, m := range methods {
			byPath[path][m] = true
		}
		return nil
	})
	if err != nil {
		s.fail(w, r, err, "")
		return
	}

	routes := make([]Route, 0, len(byPath))
	for path, set := range byPath {
		methods := make([]string, 0, len(set))
		for m := range set {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		routes = append(routes, Route{Path: path, Methods: methods})
	}
	sort.Slice(routes, func(i, j int) bool {
		return strings.Compare(routes[i].Path, routes[j].Path) < 0
	})

	apperrors.SendSuccess(w, APIDocs{
		Version: s.app.Version,
		Routes:  routes,
		Schemas: bodySchemas(),
	})
}
