package curator

// classificationPrompt asks the model whether a conversation window
// contains anything worth remembering. The model must answer with YES or
// NO followed by a one-line reason.
const classificationPrompt = `You are a memory curator for an AI assistant. Decide whether the
following conversation fragment contains information worth remembering for
future conversations — facts, stated preferences, decisions, or durable
context. Respond with exactly one line: "YES" or "NO", followed by a short
reason.

Conversation:
%s

Answer:`

// extractionPrompt asks the model to pull out discrete memory-worthy
// fragments as a JSON array.
const extractionPrompt = `Extract memory-worthy fragments from the conversation below as a JSON
array. Each element must have the shape:

{"type": "episodic|semantic|procedural", "content": "...", "importance": 0.0-1.0, "entities": ["..."]}

Only output the JSON array, with no surrounding prose. If nothing is worth
remembering, output an empty array: []

Conversation:
%s

JSON:`
