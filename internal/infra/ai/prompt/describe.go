package prompt

// DescribeSystemPrompt asks for the raw per-image signals the heuristic
// scorer consumes: caption, tags, detected objects.
func DescribeSystemPrompt() string {
	return `You are an image tagging service. You must produce one valid JSON object only (no markdown, no commentary). Describe factually what is visible; do not assess risk.

Schema (example with empty values):
{
  "caption": "<one factual sentence>",
  "tags": [{"name": "<string>", "confidence": 0.0}],
  "detectedObjects": [
    {"name": "<string>", "confidence": 0.0, "box": {"x": 0, "y": 0, "width": 0, "height": 0}}
  ]
}`
}

// DescribeUserPrompt is the fixed per-image instruction.
func DescribeUserPrompt() string {
	return "Describe the attached photo of a home's exterior and respond with the JSON per schema."
}
