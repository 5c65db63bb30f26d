package routes

import "net/http"

// Group organizes routes under a common prefix.
type Group struct {
	Prefix   string
	Routes   []Route
	Children []Group
}

// Register adds all routes from the given groups to the mux.
func Register(mux *http.ServeMux, groups ...Group) {
	Mount(mux, "", groups...)
}

// Mount adds all routes from the given groups to the mux beneath base.
func Mount(mux *http.ServeMux, base string, groups ...Group) {
	for _, group := range groups {
		registerGroup(mux, base, group)
	}
}

// Patterns lists the method and path pattern of every route in the groups.
func Patterns(base string, groups ...Group) []string {
	var out []string
	for _, g := range groups {
		out = appendPatterns(out, base, g)
	}
	return out
}

func registerGroup(mux *http.ServeMux, parentPrefix string, group Group) {
	fullPrefix := parentPrefix + group.Prefix
	for _, route := range group.Routes {
		mux.HandleFunc(route.pattern(fullPrefix), route.Handler)
	}
	for _, child := range group.Children {
		registerGroup(mux, fullPrefix, child)
	}
}

func appendPatterns(out []string, parentPrefix string, group Group) []string {
	fullPrefix := parentPrefix + group.Prefix
	for _, route := range group.Routes {
		out = append(out, route.pattern(fullPrefix))
	}
	for _, child := range group.Children {
		out = appendPatterns(out, fullPrefix, child)
	}
	return out
}
