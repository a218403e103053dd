package evaluate

import (
	"fmt"
	"net/url"
	"strings"
)

const metadataSystemPrompt = `You curate a knowledge base that supports Olympic and Paralympic athletes:
eligibility rules, anti-doping requirements, funding and grants, safe sport
policies, and national governing body programs. Judge whether a web page is
worth ingesting from its URL and title alone.

Respond with a single JSON object and nothing else:
{"isRelevant": bool, "confidence": number 0..1, "reasoning": string,
"suggestedTopicDomains": [string], "preliminaryDocumentType": string}`

const contentSystemPrompt = `You curate a knowledge base that supports Olympic and Paralympic athletes.
Assess the quality and classification of a fetched document.

authorityLevel must be one of: official, governing_body, media, community, unknown.
priority must be one of: high, medium, low.

Respond with a single JSON object and nothing else:
{"isHighQuality": bool, "confidence": number 0..1, "documentType": string,
"topicDomains": [string], "authorityLevel": string, "priority": string,
"description": string, "keyTopics": [string], "ngbId": string or null}`

func buildMetadataPrompt(pageURL, title, hint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", pageURL)
	fmt.Fprintf(&b, "Title: %s\n", title)
	if host := hostOf(pageURL); host != "" {
		fmt.Fprintf(&b, "Domain: %s\n", host)
	}
	if hint != "" {
		b.WriteString("\n")
		b.WriteString(hint)
	}
	return b.String()
}

func buildContentPrompt(pageURL, title, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", pageURL)
	fmt.Fprintf(&b, "Title: %s\n\n", title)
	b.WriteString("Document text:\n")
	b.WriteString(text)
	return b.String()
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
