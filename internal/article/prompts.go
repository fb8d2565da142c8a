package article

import (
	"fmt"
	"strings"

	"distill/internal/model"
)

const systemPromptTemplate = `You are an expert writer who transforms video and podcast transcripts into well-structured, readable articles. You preserve the key insights, arguments, and information from the original content while making it engaging to read.

Guidelines:
- Preserve direct quotes when they are particularly insightful
- Attribute speakers when speaker information is available
- Generate a descriptive title that captures the essence of the content
- Include a TLDR/summary at the top
- Use clear section headings to organize the content
- Maintain the original tone and voice where appropriate
- Write the article in %s`

var languageNames = map[string]string{
	"en": "English",
	"sv": "Swedish",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"no": "Norwegian",
	"da": "Danish",
	"fi": "Finnish",
	"nl": "Dutch",
	"it": "Italian",
	"pt": "Portuguese",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
}

var styleInstructions = map[model.ArticleStyle]string{
	model.StyleDetailed: "Write a comprehensive, detailed article that preserves most of the " +
		"original content. Include all key points, examples, and supporting " +
		"arguments. The article should be thorough enough that a reader would " +
		"not need to watch/listen to the original content.",
	model.StyleConcise: "Write a concise article highlighting the key points and most important " +
		"insights. Aim for approximately 30% of the original content length. " +
		"Focus on the main arguments and conclusions, omitting tangential " +
		"discussion and repetition.",
	model.StyleSummary: "Write an executive summary of 3-5 paragraphs capturing the core message " +
		"and key takeaways. This should give readers a quick understanding of " +
		"what was discussed and the main conclusions.",
	model.StyleBullets: "Create structured bullet-point notes organized by topic. Use nested " +
		"bullets for sub-points. Include key quotes, statistics, and actionable " +
		"insights. This format should be easy to scan and reference later.",
}

const outputFormat = `Respond with a JSON object matching this exact structure:
{
  "title": "A descriptive article title",
  "subtitle": "An optional subtitle or null",
  "summary": "A 2-3 sentence TLDR summary",
  "sections": [
    {
      "heading": "Section Heading",
      "body": "Section content in markdown format"
    }
  ]
}`

func systemPrompt(language string) string {
	name, ok := languageNames[language]
	if !ok {
		name = language
	}
	return fmt.Sprintf(systemPromptTemplate, name)
}

func styleInstruction(style model.ArticleStyle) string {
	if instr, ok := styleInstructions[style]; ok {
		return instr
	}
	return styleInstructions[model.StyleDetailed]
}

func generationPrompt(transcriptText string, src model.Source, style model.ArticleStyle) string {
	return fmt.Sprintf(`Transform the following transcript into an article.

Source Information:
%s

Style: %s

%s

Transcript:
%s`, sourceInfo(src), styleInstruction(style), outputFormat, transcriptText)
}

func chunkPrompt(text string, num, total int) string {
	return fmt.Sprintf(`Summarize this section of a transcript, preserving key points, quotes, and insights. This is part %d of %d of a longer transcript.

Transcript section:
%s

Provide a detailed summary that can later be combined with summaries of other sections.`, num, total, text)
}

func synthesisPrompt(summaries []string, src model.Source, style model.ArticleStyle) string {
	numbered := make([]string, len(summaries))
	for i, s := range summaries {
		numbered[i] = fmt.Sprintf("--- Section %d ---\n%s", i+1, s)
	}

	return fmt.Sprintf(`You have summaries of different sections of a transcript. Synthesize these into a single coherent article.

Source: %s

Section summaries:
%s

%s

%s`, src.Title, strings.Join(numbered, "\n\n"), styleInstruction(style), outputFormat)
}

func sourceInfo(src model.Source) string {
	info := fmt.Sprintf("Title: %s\nType: %s", src.Title, src.Kind)
	if src.PublishedAt != nil {
		info += "\nPublished: " + src.PublishedAt.Format("2006-01-02")
	}
	return info
}
