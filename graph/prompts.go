package graph

import (
	"fmt"

	"github.com/Clinical-Copilot/Medical-Deep-Research/model"
)

// Output format identifiers accepted by the reporter. Any other non-empty
// value is treated as free-text custom formatting instructions.
const (
	OutputFormatLong  = "long-report"
	OutputFormatShort = "short-report"
)

const coordinatorInstructions = `You are a research coordinator for medical deep research tasks.
For greetings, small talk or questions you can answer directly, reply to the user yourself.
For any request that needs research, planning or data analysis, call the handoff_to_planner tool to delegate the task. Do not attempt the research yourself.`

const plannerInstructions = `You are a research planner. Break the user's request into a structured research plan.
Respond with a single JSON object:
{"has_enough_context": bool, "thought": string, "title": string, "steps": [{"title": string, "description": string, "step_type": "research"|"processing"}]}
Set has_enough_context to true only when the request can be answered without executing any steps.
Use step_type "research" for information gathering and "processing" for computation or data analysis. Respond with JSON only.`

const longReporterInstructions = `You are a professional research reporter. Write a comprehensive, well structured report from the research requirements and observations provided. Use markdown.`

const shortReporterInstructions = `You are a research reporter. Summarize the findings concisely.`

const longFormatReminder = "IMPORTANT: Structure your report according to the format in the prompt. Remember to include:\n\n1. Key Points - A bulleted list of the most important findings\n2. Overview - A brief introduction to the topic\n3. Detailed Analysis - Organized into logical sections\n4. Survey Note (optional) - For more comprehensive reports\n5. Key Citations - List all references at the end\n\nFor citations, DO NOT include inline citations in the text. Instead, place all citations in the 'Key Citations' section at the end using the format: `- [Source Title](URL)`. Include an empty line between each citation for better readability.\n\nPRIORITIZE USING MARKDOWN TABLES for data presentation and comparison. Use tables whenever presenting comparative data, statistics, features, or options. Structure tables with clear headers and aligned columns."

const shortFormatReminder = "IMPORTANT: Provide a concise answer with key points only. Focus on the most essential findings in 2-3 sentences. Be direct and to the point."

const citationReminder = "IMPORTANT: Use inline citations and a final \"### References\" section.  \nInline citations – place [tag] immediately after each claim; tag = first author's surname (or first significant title word if no author) + last two digits of year, e.g. [smith24]; add \"-a\", \"-b\"... if needed to keep tags unique; reuse the same tag for repeat citations.  \nReferences – append \"### References\" after the text; list every unique tag in the order it first appears, one per line with a blank line between, formatted **[tag]** [Full Source Title](URL). Show URLs only here.  \nNo other citation style."

// handoffToPlannerTool is the coordinator's only tool. It returns nothing;
// the model calling it is the hand-off signal.
func handoffToPlannerTool() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "handoff_to_planner",
		Description: "Handoff to planner agent to do plan.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_title": map[string]any{
					"type":        "string",
					"description": "The title of the task to be handed off.",
				},
			},
			"required": []string{"task_title"},
		},
	}
}

func modificationPrompt(planJSON, feedback string) string {
	return fmt.Sprintf(`You are a plan modifier. You have an existing plan and user feedback.
Modify the plan based on the feedback while keeping the good parts of the original plan.

ORIGINAL PLAN:
%s

USER FEEDBACK:
%s

Please modify the plan based on the feedback. Return the modified plan in the same JSON format as the original.
Focus on addressing the specific feedback while preserving the overall structure and good elements of the original plan.

The step_type field must be exactly "research" or "processing" as simple strings.`, planJSON, feedback)
}

func customPromptGenerator(requirements string) string {
	return fmt.Sprintf(`You are a prompt engineering expert. Based on the user's requirements, generate a comprehensive prompt for a research report writer.

User Requirements: %s

Generate a detailed prompt that:
1. Understands the user's intention and requirements
2. Provides clear instructions for the report structure and style
3. Maintains professional standards and proper citations
4. Adapts the format, tone, and content based on user needs

Generate the prompt now:`, requirements)
}

func customFormatReminder(requirements string) string {
	return fmt.Sprintf("IMPORTANT: Follow the dynamically generated prompt above. The user's original requirements were: '%s'. Ensure the report matches these requirements while maintaining professional standards and proper citations.", requirements)
}
