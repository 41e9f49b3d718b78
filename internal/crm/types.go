package crm

// NewClient is a customer to register in the CRM.
type NewClient struct {
	CallID         string
	GivenName      string
	FirstSurname   string
	SecondSurname  string
	Phone          string
	SecondaryPhone string
	Email          string
	LeadID         string
	CampaignID     string
	Referral       string
}

// Ticket is one incident to file against a client.
type Ticket struct {
	ClientID     string
	CallID       string
	TypeCode     string
	ReasonCode   string
	LineCode     string
	PolicyNumber string
	Notes        string
	Priority     string
	RecordingURL string
}

// Rellamada continues an already open ticket.
type Rellamada struct {
	ClientID        string
	CallID          string
	RelatedTicketID string
	Notes           string
}

// Wire payloads use the CRM's Spanish field names.

type clientRequest struct {
	FechaAlta       string `json:"fechaAlta"`
	IDCliente       string `json:"idCliente"`
	IDLlamada       string `json:"idLlamada"`
	Nombre          string `json:"nombre"`
	PrimerApellido  string `json:"primerApellido"`
	SegundoApellido string `json:"segundoApellido,omitempty"`
	Telefono        string `json:"telefono,omitempty"`
	Telefono2       string `json:"telefono2,omitempty"`
	Email           string `json:"email,omitempty"`
	IDLead          string `json:"idLead,omitempty"`
	IDCampana       string `json:"idCampana,omitempty"`
	Referido        string `json:"referido,omitempty"`
}

type ticketRequest struct {
	FechaHora        string `json:"fechaHora"`
	IDCliente        string `json:"idCliente"`
	IDLlamada        string `json:"idLlamada"`
	IDTicket         string `json:"idTicket"`
	TipoIncidencia   string `json:"tipoIncidencia"`
	MotivoIncidencia string `json:"motivoIncidencia"`
	Ramo             string `json:"ramo,omitempty"`
	NumeroPoliza     string `json:"numeroPoliza,omitempty"`
	Notas            string `json:"notas"`
	Prioridad        string `json:"prioridad,omitempty"`
	FicheroLlamada   string `json:"ficheroLlamada,omitempty"`
}

type rellamadaRequest struct {
	FechaHora           string `json:"fechaHora"`
	IDRellamada         string `json:"idRellamada"`
	IDCliente           string `json:"idCliente"`
	IDLlamada           string `json:"idLlamada"`
	IDTicketRelacionado string `json:"idTicketRelacionado"`
	Notas               string `json:"notas"`
}

// apiResponse covers the variants the CRM answers with.
type apiResponse struct {
	Success     *bool  `json:"success"`
	ID          string `json:"id"`
	IDCliente   string `json:"idCliente"`
	IDTicket    string `json:"idTicket"`
	IDRellamada string `json:"idRellamada"`
	Mensaje     string `json:"mensaje"`
	Error       string `json:"error"`
}

func (r apiResponse) firstID() string {
	for _, id := range []string{r.ID, r.IDTicket, r.IDCliente, r.IDRellamada} {
		if id != "" {
			return id
		}
	}
	return ""
}
