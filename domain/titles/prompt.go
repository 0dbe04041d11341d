package titles

import (
	"fmt"
	"strings"
)

const systemInstruction = `You are a YouTube title optimization expert.

For each title you are given, provide:
1. An improved version that is more engaging, SEO-friendly, and likely to get more clicks
2. A brief rationale (1-2 sentences) explaining why the improved title is better

Guidelines:
- Keep the core topic and authenticity
- Use action verbs, numbers, and specific value propositions
- Make it curiosity-inducing without being clickbait
- Optimize for searchability and clarity`

func buildPrompt(channelName string, titles []string) string {
	var list strings.Builder
	for i, t := range titles {
		fmt.Fprintf(&list, "%d. %q\n", i+1, t)
	}

	return fmt.Sprintf(`Below are %d video titles from the channel %q.

Video titles:
%s
Return exactly %d items, in the same order as the input.

Respond in JSON format:
{
  "titles": [
    {"original": "...", "improved": "...", "rationale": "..."}
  ]
}`, len(titles), channelName, list.String(), len(titles))
}
