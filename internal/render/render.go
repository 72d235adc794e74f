// Package render merges contact and campaign fields into step templates.
//
// Two placeholder forms are recognised. {{key}} is always a merge tag:
// an unknown key renders as the empty string and is reported. {key} is
// only replaced when key is known, so literal braces in a body survive.
package render

import (
	"regexp"
	"sort"
	"strings"

	"github.com/nhle/outreach/internal/crossref"
	"github.com/nhle/outreach/internal/model"
)

// placeholder matches {{key}} (group 1) or {key} (group 2). Both forms
// are replaced in one pass so substituted values are never rescanned.
var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}|\{([A-Za-z0-9_]+)\}`)

// Data maps lowercased merge keys to values.
type Data map[string]string

// DataFor builds the merge data for one contact in one campaign.
// Custom fields never shadow the built-in keys.
func DataFor(contact *model.Contact, campaign *model.Campaign) Data {
	d := Data{}
	if contact != nil {
		for k, v := range contact.CustomFields {
			d[strings.ToLower(strings.TrimSpace(k))] = v
		}
		d["first_name"] = contact.FirstName
		d["last_name"] = contact.LastName
		d["full_name"] = contact.FullName()
		d["email"] = contact.Email
		d["company"] = contact.Company
		d["title"] = contact.Title
	}
	if campaign != nil {
		d["campaign_name"] = campaign.Name
		d["campaign_reference"] = campaign.Reference
	}
	return d
}

// Render substitutes placeholders in tmpl. It returns the rendered
// text and the sorted, deduplicated list of unknown {{key}} tags.
func Render(tmpl string, data Data) (string, []string) {
	missing := map[string]bool{}

	out := placeholder.ReplaceAllStringFunc(tmpl, func(tag string) string {
		m := placeholder.FindStringSubmatch(tag)
		if m[1] != "" {
			key := strings.ToLower(m[1])
			v, ok := data[key]
			if !ok {
				missing[key] = true
				return ""
			}
			return v
		}
		if v, ok := data[strings.ToLower(m[2])]; ok {
			return v
		}
		return tag
	})

	if len(missing) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(missing))
	for k := range missing {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return out, keys
}

// Result is a fully rendered step.
type Result struct {
	Subject string
	Body    string
	// Missing lists unknown merge tags found in the subject or body.
	Missing []string
}

// Options controls step rendering.
type Options struct {
	// TagSubject appends the campaign reference to the subject when
	// the rendered subject does not already carry it.
	TagSubject bool
}

// Step renders a step's subject and body for a contact.
func Step(step model.EmailStep, contact *model.Contact, campaign *model.Campaign, opts Options) Result {
	data := DataFor(contact, campaign)

	subject, missingSubject := Render(step.Subject, data)
	body, missingBody := Render(step.Body, data)

	subject = strings.Join(strings.Fields(subject), " ")
	if opts.TagSubject && campaign != nil {
		subject = TagSubject(subject, campaign.Reference)
	}

	return Result{
		Subject: subject,
		Body:    body,
		Missing: mergeMissing(missingSubject, missingBody),
	}
}

// TagSubject appends " [ref]" unless the subject already contains ref.
func TagSubject(subject, ref string) string {
	if ref == "" || crossref.ContainsReference(subject, ref) {
		return subject
	}
	if subject == "" {
		return "[" + ref + "]"
	}
	return subject + " [" + ref + "]"
}

func mergeMissing(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, k := range append(append([]string{}, a...), b...) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
