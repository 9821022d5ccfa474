package ordersource

type Source struct {
	Name string
}

func (s Source) Code() string {
	return s.Name
}

type Enum struct {
	Online      Source
	POSTerminal Source
}

var Sources = Enum{
	Online:      Source{Name: "online"},
	POSTerminal: Source{Name: "pos_terminal"},
}

var All = []Source{
	Sources.Online,
	Sources.POSTerminal,
}

// ByName returns the source for a given name, or nil if not found
func ByName(name string) *Source {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}
