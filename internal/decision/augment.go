package decision

import (
	"fmt"

	"callflow_backend/internal/extractor"
)

// Augment fills gaps in d with what the extractor found in the call. The
// model's decision wins on conflicts; the extractor only adds.
func (d *Decision) Augment(data extractor.ClientData) {
	c := &d.Client

	switch {
	case c.ExistingClientID != "" && data.ClientID != "" && c.ExistingClientID != data.ClientID:
		d.AddWarning(fmt.Sprintf("extractor matched client %s, keeping %s", data.ClientID, c.ExistingClientID))

	case c.ExistingClientID == "" && data.ClientID != "" &&
		(c.Disposition == DispositionExisting || c.Disposition == DispositionUnknown):
		c.Disposition = DispositionExisting
		c.ExistingClientID = data.ClientID
		c.UseExistingClient = true
		c.CreateNewClient = false
		d.Actions.CreateClient = false
		if data.Source == extractor.SourceTools || data.Source == extractor.SourceMixed {
			c.DataSource = DataSourceTools
		}
		if data.Match != nil && data.Match.LowConfidence {
			d.AddWarning(fmt.Sprintf("client %s bound by %s, verify identity", data.ClientID, data.Match.Method))
		}

	case c.ExistingClientID == "" && data.LeadInfo != nil &&
		(c.Disposition == DispositionLead || c.Disposition == DispositionUnknown):
		c.Disposition = DispositionLead
		if c.LeadID == "" {
			c.LeadID = data.LeadInfo.LeadID
		}
		if c.CampaignID == "" {
			c.CampaignID = data.LeadInfo.CampaignID
		}
		if data.Source == extractor.SourceTools || data.Source == extractor.SourceMixed {
			c.DataSource = DataSourceTools
		}
	}

	if c.Name == "" {
		c.Name = data.Name
	}
	if c.Phone == "" {
		c.Phone = data.Phone
	}
	if c.Email == "" {
		c.Email = data.Email
	}
	if d.PrimaryIncident.PolicyNumber == "" {
		d.PrimaryIncident.PolicyNumber = data.PolicyNumber
	}
}
