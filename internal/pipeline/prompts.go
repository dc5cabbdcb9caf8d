package pipeline

import (
	"fmt"
	"strings"

	"github.com/cryptodefiza-create/content-machine/internal/models"
	"github.com/cryptodefiza-create/content-machine/internal/persona"
)

func scoutPrompt(topic models.Topic, p *persona.Profile) string {
	var b strings.Builder
	b.WriteString("You are a research scout. Summarize the topic and extract only safe claims.\n")
	b.WriteString("Return JSON with keys: summary (string), key_points (list), risky_claims (list), safe_claims (list).\n\n")
	fmt.Fprintf(&b, "TOPIC TYPE: %s\n", topic.Type)
	fmt.Fprintf(&b, "SOURCE: %s\n", topic.Source)
	fmt.Fprintf(&b, "TOPIC: %s\n", topic.Text)
	fmt.Fprintf(&b, "DETAILS: %s\n", topic.Description)
	fmt.Fprintf(&b, "URL: %s\n", topic.URL)
	return b.String()
}

func ideatePrompt(topic models.Topic, p *persona.Profile, summary string, keyPoints []string) string {
	var b strings.Builder
	b.WriteString("You are an ideation assistant. Propose strong angles, hooks, and CTAs.\n")
	b.WriteString("Return JSON with keys: angles (list), hooks (list), ctas (list).\n\n")
	fmt.Fprintf(&b, "PERSONA: %s\n", p.Name)
	fmt.Fprintf(&b, "BIO: %s\n", p.Bio)
	fmt.Fprintf(&b, "ROLE: %s\n", p.Role)
	fmt.Fprintf(&b, "TONE: meme=%.2f, serious=%.2f, educational=%.2f\n", p.Tone.Meme, p.Tone.Serious, p.Tone.Educational)
	fmt.Fprintf(&b, "STANCE: %s\n", strings.Join(p.Stance, "; "))
	fmt.Fprintf(&b, "HOT TAKES: %s\n", strings.Join(p.HotTakes, "; "))
	fmt.Fprintf(&b, "FORBIDDEN: %s\n", strings.Join(p.ForbiddenPhrases, "; "))
	fmt.Fprintf(&b, "EXAMPLES: %s\n\n", strings.Join(p.Examples, " | "))
	fmt.Fprintf(&b, "TOPIC: %s\n", topic.Text)
	fmt.Fprintf(&b, "SCOUT SUMMARY: %s\n", summary)
	fmt.Fprintf(&b, "KEY POINTS: %s\n", strings.Join(keyPoints, "; "))
	return b.String()
}

func draftPrompt(topic models.Topic, p *persona.Profile, summary string, angles, hooks, ctas []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are drafting a single X/Twitter post. No hashtags. Hard max %d chars per post.\n", p.MaxPostLength)
	b.WriteString("Return JSON with keys: content (string), is_thread (bool), thread_parts (list), visual_prompt (string).\n\n")
	fmt.Fprintf(&b, "PERSONA: %s\n", p.Name)
	fmt.Fprintf(&b, "VOICE BIO: %s\n", p.Bio)
	fmt.Fprintf(&b, "ROLE: %s\n", p.Role)
	fmt.Fprintf(&b, "TONE SLIDERS: meme=%.2f, serious=%.2f, educational=%.2f\n", p.Tone.Meme, p.Tone.Serious, p.Tone.Educational)
	fmt.Fprintf(&b, "STANCE BULLETS: %s\n", strings.Join(p.Stance, "; "))
	fmt.Fprintf(&b, "HOT TAKES: %s\n", strings.Join(p.HotTakes, "; "))
	fmt.Fprintf(&b, "FORBIDDEN PHRASES: %s\n", strings.Join(p.ForbiddenPhrases, "; "))
	fmt.Fprintf(&b, "EXAMPLES: %s\n\n", strings.Join(p.Examples, " | "))
	fmt.Fprintf(&b, "TOPIC: %s\n", topic.Text)
	fmt.Fprintf(&b, "DETAILS: %s\n", topic.Description)
	fmt.Fprintf(&b, "SCOUT SUMMARY: %s\n", summary)
	fmt.Fprintf(&b, "ANGLES: %s\n", strings.Join(angles, "; "))
	fmt.Fprintf(&b, "HOOKS: %s\n", strings.Join(hooks, "; "))
	fmt.Fprintf(&b, "CTAS: %s\n", strings.Join(ctas, "; "))
	return b.String()
}

func rewritePrompt(p *persona.Profile, content string, issues []string, avoidText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rewrite the draft to address the issues. No hashtags. Hard max %d chars per post.\n", p.MaxPostLength)
	b.WriteString("Return JSON with keys: content (string), is_thread (bool), thread_parts (list), visual_prompt (string).\n\n")
	fmt.Fprintf(&b, "PERSONA: %s\n", p.Name)
	fmt.Fprintf(&b, "ISSUES: %s\n", strings.Join(issues, "; "))
	fmt.Fprintf(&b, "AVOID TEXT: %s\n", avoidText)
	fmt.Fprintf(&b, "ORIGINAL: %s\n", content)
	return b.String()
}
